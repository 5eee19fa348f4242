// Package webhook manages the registry of workflow-engine webhooks and
// dispatches JSON payloads to them.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/primal-host/consorcio/internal/database"
)

var (
	ErrNotFound  = errors.New("webhook: not found")
	ErrNameTaken = errors.New("webhook: name already registered")
	ErrInvalid   = errors.New("webhook: invalid definition")
)

// Webhook is a named endpoint of the workflow engine.
type Webhook struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ProdURL     string    `json:"prodUrl"`
	TestURL     string    `json:"testUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// URL picks the test URL outside production when one is configured.
func (w *Webhook) URL(production bool) string {
	if !production && w.TestURL != "" {
		return w.TestURL
	}
	return w.ProdURL
}

// CreateParams holds the fields of a new webhook.
type CreateParams struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ProdURL     string `json:"prodUrl"`
	TestURL     string `json:"testUrl"`
}

func (p CreateParams) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if err := checkURL(p.ProdURL); err != nil {
		return fmt.Errorf("%w: prodUrl: %v", ErrInvalid, err)
	}
	if p.TestURL != "" {
		if err := checkURL(p.TestURL); err != nil {
			return fmt.Errorf("%w: testUrl: %v", ErrInvalid, err)
		}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL")
	}
	return nil
}

const webhookColumns = `id, name, description, prod_url, test_url, created_at, updated_at`

// Store provides webhook registry operations on public.n8n_webhooks.
type Store struct {
	db database.Querier
}

func NewStore(db database.Querier) *Store {
	return &Store{db: db}
}

func scanWebhook(row pgx.Row) (*Webhook, error) {
	var w Webhook
	err := row.Scan(&w.ID, &w.Name, &w.Description, &w.ProdURL, &w.TestURL, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Create registers a webhook.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Webhook, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	w, err := scanWebhook(s.db.QueryRow(ctx,
		`INSERT INTO n8n_webhooks (name, description, prod_url, test_url)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+webhookColumns,
		p.Name, p.Description, p.ProdURL, p.TestURL))
	if database.IsDuplicateKey(err) {
		return nil, fmt.Errorf("%w: %s", ErrNameTaken, p.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("webhook: create %q: %w", p.Name, err)
	}
	return w, nil
}

// List returns every webhook ordered by name.
func (s *Store) List(ctx context.Context) ([]Webhook, error) {
	rows, err := s.db.Query(ctx, `SELECT `+webhookColumns+` FROM n8n_webhooks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("webhook: list: %w", err)
	}
	defer rows.Close()

	hooks := []Webhook{}
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("webhook: list scan: %w", err)
		}
		hooks = append(hooks, *w)
	}
	return hooks, rows.Err()
}

// GetByName returns the webhook registered under name.
func (s *Store) GetByName(ctx context.Context, name string) (*Webhook, error) {
	w, err := scanWebhook(s.db.QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM n8n_webhooks WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("webhook: get %q: %w", name, err)
	}
	return w, nil
}

// Delete removes a webhook by name.
func (s *Store) Delete(ctx context.Context, name string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM n8n_webhooks WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("webhook: delete %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}
