package rtdb

import (
	"context"
	"fmt"
	"log"
	"os"

	firebase "firebase.google.com/go"
	fdb "firebase.google.com/go/db"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// OAuth scopes the streaming listener needs; the admin SDK handles its own
// authentication for the point operations.
var databaseScopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/firebase.database",
}

// FirebaseClient talks to a Firebase Realtime Database. Point reads and
// writes go through the admin SDK; Subscribe uses the database's REST
// streaming protocol because the Go admin SDK exposes no listeners.
type FirebaseClient struct {
	db          *fdb.Client
	databaseURL string
	tokenSource oauth2.TokenSource
}

var _ Client = (*FirebaseClient)(nil)

// NewFirebaseClient initializes the admin SDK app and the OAuth token
// source used by the streaming listener.
func NewFirebaseClient(ctx context.Context, projectID, credentialsPath, databaseURL string) (*FirebaseClient, error) {
	opt := option.WithCredentialsFile(credentialsPath)

	config := &firebase.Config{ProjectID: projectID, DatabaseURL: databaseURL}
	app, err := firebase.NewApp(ctx, config, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("error initializing Realtime Database client: %w", err)
	}

	credJSON, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("error reading credentials file: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, credJSON, databaseScopes...)
	if err != nil {
		return nil, fmt.Errorf("error building token source: %w", err)
	}

	log.Printf("✅ Connected to Realtime Database: %s", databaseURL)

	return &FirebaseClient{
		db:          client,
		databaseURL: databaseURL,
		tokenSource: creds.TokenSource,
	}, nil
}

func storeErr(op, path string, err error) error {
	return fmt.Errorf("failed to %s %s: %w: %s", op, path, ErrUnavailable, err)
}

func (c *FirebaseClient) Get(ctx context.Context, path string, dest any) error {
	if err := c.db.NewRef(path).Get(ctx, dest); err != nil {
		return storeErr("read", path, err)
	}
	return nil
}

func (c *FirebaseClient) Set(ctx context.Context, path string, value any) error {
	if err := c.db.NewRef(path).Set(ctx, value); err != nil {
		return storeErr("write", path, err)
	}
	return nil
}

func (c *FirebaseClient) Update(ctx context.Context, path string, values map[string]any) error {
	if err := c.db.NewRef(path).Update(ctx, values); err != nil {
		return storeErr("update", path, err)
	}
	return nil
}

func (c *FirebaseClient) Push(ctx context.Context, path string, value any) (string, error) {
	ref, err := c.db.NewRef(path).Push(ctx, value)
	if err != nil {
		return "", storeErr("push to", path, err)
	}
	return ref.Key, nil
}

func (c *FirebaseClient) Delete(ctx context.Context, path string) error {
	if err := c.db.NewRef(path).Delete(ctx); err != nil {
		return storeErr("delete", path, err)
	}
	return nil
}

func (c *FirebaseClient) QueryEqual(ctx context.Context, path, child string, value any, dest any) error {
	q := c.db.NewRef(path).OrderByChild(child).EqualTo(value)
	if err := q.Get(ctx, dest); err != nil {
		return storeErr("query", path, err)
	}
	return nil
}
