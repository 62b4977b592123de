package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/model"
)

// PostgresBriefingRepo はPostgreSQLを使用したブリーフィングリポジトリ。
type PostgresBriefingRepo struct {
	db *sql.DB
}

// NewPostgresBriefingRepo はPostgresBriefingRepoを生成する。
func NewPostgresBriefingRepo(db *sql.DB) *PostgresBriefingRepo {
	return &PostgresBriefingRepo{db: db}
}

// Upsert は(user_id, edition_date)をキーにブリーフィングを作成または置き換える。
// 競合時はidとcreated_atを維持し、それ以外の列を上書きする。
func (r *PostgresBriefingRepo) Upsert(ctx context.Context, b *model.Briefing) error {
	content, err := json.Marshal(b.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal briefing content: %w", err)
	}

	id := b.ID
	if id == "" {
		id = uuid.New().String()
	}

	err = r.db.QueryRowContext(ctx,
		`INSERT INTO briefings (id, user_id, edition_date, content, tickers, model, prompt_version, input_fingerprint, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		 ON CONFLICT (user_id, edition_date) DO UPDATE SET
		   content = EXCLUDED.content,
		   tickers = EXCLUDED.tickers,
		   model = EXCLUDED.model,
		   prompt_version = EXCLUDED.prompt_version,
		   input_fingerprint = EXCLUDED.input_fingerprint,
		   updated_at = now()
		 RETURNING id, created_at, updated_at`,
		id, b.UserID, b.EditionDate, content, pq.Array(b.Tickers), b.Model, b.PromptVersion, b.InputFingerprint,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert briefing: %w", err)
	}
	return nil
}

// FindByUserAndDate はブリーフィングを取得する。見つからない場合はnilを返す。
func (r *PostgresBriefingRepo) FindByUserAndDate(ctx context.Context, userID string, date edition.Date) (*model.Briefing, error) {
	b := &model.Briefing{}
	var content []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, edition_date, content, tickers, model, prompt_version, input_fingerprint, created_at, updated_at
		 FROM briefings
		 WHERE user_id = $1 AND edition_date = $2`,
		userID, date,
	).Scan(&b.ID, &b.UserID, &b.EditionDate, &content, pq.Array(&b.Tickers), &b.Model, &b.PromptVersion,
		&b.InputFingerprint, &b.CreatedAt, &b.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find briefing: %w", err)
	}
	if err := json.Unmarshal(content, &b.Content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal briefing content: %w", err)
	}
	return b, nil
}

// Delete はブリーフィングを削除し、削除したかどうかを返す。
func (r *PostgresBriefingRepo) Delete(ctx context.Context, userID string, date edition.Date) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM briefings WHERE user_id = $1 AND edition_date = $2`,
		userID, date,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete briefing: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}
