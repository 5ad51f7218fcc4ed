// Package connection resolves inbound webhook traffic to a stored platform
// connection and its agent configuration.
package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mohumedraslan/intaj-gateway/internal/channel"
	"github.com/mohumedraslan/intaj-gateway/internal/vault"
)

// ErrConnectionNotFound means no active connection exists for the platform
// account a webhook was delivered to.
var ErrConnectionNotFound = errors.New("connection not found")

// Connection statuses.
const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusError   = "error"
)

// Connection is a bound platform account owned by an agent.
type Connection struct {
	ID                string
	Platform          channel.Platform
	ExternalAccountID string
	AgentID           string
	Status            string
	StatusDetail      string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Agent is the read-only behavior config attached to a connection. Rows are
// written by the surrounding application.
type Agent struct {
	ID            string
	ModelName     string
	SystemPrompt  string
	FallbackReply string
	AutoRespond   bool
	BusinessHours BusinessHours
}

// BusinessHours restricts auto-responses to a daily window. A disabled window
// always matches.
type BusinessHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// Within reports whether now falls inside the configured window. Windows
// where start > end wrap past midnight. Unparseable config fails open.
func (b BusinessHours) Within(now time.Time) bool {
	if !b.Enabled {
		return true
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		loc = time.UTC
	}
	start, errS := time.Parse("15:04", b.Start)
	end, errE := time.Parse("15:04", b.End)
	if errS != nil || errE != nil {
		return true
	}

	local := now.In(loc)
	minutes := local.Hour()*60 + local.Minute()
	startMin := start.Hour()*60 + start.Minute()
	endMin := end.Hour()*60 + end.Minute()

	if startMin <= endMin {
		return minutes >= startMin && minutes < endMin
	}
	return minutes >= startMin || minutes < endMin
}

// Resolved bundles a connection with its agent and decrypted credentials.
type Resolved struct {
	Connection  Connection
	Agent       Agent
	Credentials channel.Credentials
}

// Service reads connections and agents from Postgres and unseals credentials.
type Service struct {
	pool   *pgxpool.Pool
	vault  *vault.Vault
	logger *slog.Logger
}

// NewService creates a connection Service.
func NewService(pool *pgxpool.Pool, v *vault.Vault, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		vault:  v,
		logger: log.With(slog.String("service", "connection")),
	}
}

const resolveQuery = `
SELECT c.id::text, c.platform, c.external_account_id, c.agent_id::text,
       c.status, COALESCE(c.status_detail, ''), c.credentials,
       c.created_at, c.updated_at,
       a.id::text, COALESCE(a.model_name, ''), COALESCE(a.system_prompt, ''),
       COALESCE(a.fallback_reply, ''), a.auto_respond, a.business_hours
FROM connections c
JOIN agents a ON a.id = c.agent_id
WHERE c.platform = $1
  AND c.status = 'active'
  AND ($2 = '' OR c.external_account_id = $2)
ORDER BY c.created_at DESC`

type resolvedRow struct {
	conn          Connection
	agent         Agent
	credentialRaw []byte
	businessRaw   []byte
}

// Resolve finds the active connection for (platform, externalAccountID) and
// returns it with decrypted credentials and agent config. An empty
// externalAccountID matches any active connection of the platform; platforms
// whose webhooks do not identify the receiving account rely on this. More
// than one active row logs a warning and the newest wins.
func (s *Service) Resolve(ctx context.Context, platform channel.Platform, externalAccountID string) (*Resolved, error) {
	rows, err := s.pool.Query(ctx, resolveQuery, platform.String(), externalAccountID)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var candidates []resolvedRow
	for rows.Next() {
		var r resolvedRow
		var platformRaw string
		if err := rows.Scan(
			&r.conn.ID, &platformRaw, &r.conn.ExternalAccountID, &r.conn.AgentID,
			&r.conn.Status, &r.conn.StatusDetail, &r.credentialRaw,
			&r.conn.CreatedAt, &r.conn.UpdatedAt,
			&r.agent.ID, &r.agent.ModelName, &r.agent.SystemPrompt,
			&r.agent.FallbackReply, &r.agent.AutoRespond, &r.businessRaw,
		); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		r.conn.Platform = channel.Platform(platformRaw)
		candidates = append(candidates, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read connections: %w", err)
	}

	row, err := pickConnection(s.logger, platform, externalAccountID, candidates)
	if err != nil {
		return nil, err
	}

	creds, err := s.unseal(row.credentialRaw)
	if err != nil {
		if errors.Is(err, vault.ErrCorruptCredential) {
			s.logger.Error("credential blob failed to decrypt",
				slog.String("connection_id", row.conn.ID),
				slog.String("platform", platform.String()),
			)
			if updErr := s.UpdateStatus(ctx, row.conn.ID, StatusError, "credential decryption failed"); updErr != nil {
				s.logger.Error("mark connection errored", slog.String("error", updErr.Error()))
			}
		}
		return nil, err
	}

	if len(row.businessRaw) > 0 {
		if err := json.Unmarshal(row.businessRaw, &row.agent.BusinessHours); err != nil {
			s.logger.Warn("unreadable business_hours config",
				slog.String("agent_id", row.agent.ID),
				slog.String("error", err.Error()),
			)
			row.agent.BusinessHours = BusinessHours{}
		}
	}

	return &Resolved{Connection: row.conn, Agent: row.agent, Credentials: creds}, nil
}

func pickConnection(log *slog.Logger, platform channel.Platform, externalAccountID string, candidates []resolvedRow) (resolvedRow, error) {
	switch len(candidates) {
	case 0:
		return resolvedRow{}, fmt.Errorf("%w: platform=%s account=%s", ErrConnectionNotFound, platform, externalAccountID)
	case 1:
		return candidates[0], nil
	default:
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.conn.ID
		}
		log.Warn("multiple active connections for account, using newest",
			slog.String("platform", platform.String()),
			slog.String("account", externalAccountID),
			slog.Any("connection_ids", ids),
		)
		return candidates[0], nil
	}
}

func (s *Service) unseal(blob []byte) (channel.Credentials, error) {
	plaintext, err := s.vault.Open(blob)
	if err != nil {
		return nil, err
	}
	var creds channel.Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("%w: credential payload", vault.ErrCorruptCredential)
	}
	return creds, nil
}

// UpdateStatus sets a connection's status and detail. Writing the current
// status again is a no-op row update.
func (s *Service) UpdateStatus(ctx context.Context, id, status, detail string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE connections SET status = $2, status_detail = $3, updated_at = now() WHERE id = $1`,
		id, status, detail,
	)
	if err != nil {
		return fmt.Errorf("update connection status: %w", err)
	}
	return nil
}

// ListActive returns every active connection with decrypted credentials,
// skipping rows whose blobs fail to unseal.
func (s *Service) ListActive(ctx context.Context) ([]Resolved, error) {
	rows, err := s.pool.Query(ctx, `
SELECT c.id::text, c.platform, c.external_account_id, c.agent_id::text,
       c.status, COALESCE(c.status_detail, ''), c.credentials, c.created_at, c.updated_at
FROM connections c
WHERE c.status = 'active'
ORDER BY c.created_at`)
	if err != nil {
		return nil, fmt.Errorf("query active connections: %w", err)
	}
	defer rows.Close()

	var out []Resolved
	for rows.Next() {
		var conn Connection
		var platformRaw string
		var credentialRaw []byte
		if err := rows.Scan(
			&conn.ID, &platformRaw, &conn.ExternalAccountID, &conn.AgentID,
			&conn.Status, &conn.StatusDetail, &credentialRaw,
			&conn.CreatedAt, &conn.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		conn.Platform = channel.Platform(platformRaw)

		creds, err := s.unseal(credentialRaw)
		if err != nil {
			s.logger.Warn("skipping connection with unreadable credentials",
				slog.String("connection_id", conn.ID),
			)
			continue
		}
		out = append(out, Resolved{Connection: conn, Credentials: creds})
	}
	return out, rows.Err()
}
