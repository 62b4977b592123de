package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/stockast/internal/edition"
	"github.com/hitoshi/stockast/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// ListFavorites はユーザーのお気に入り銘柄をRank昇順で返す。
func (r *PostgresUserRepo) ListFavorites(ctx context.Context, userID string) ([]model.FavoriteTicker, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, ticker, name, rank FROM favorite_stocks
		 WHERE user_id = $1
		 ORDER BY rank ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list favorites: %w", err)
	}
	defer rows.Close()

	var favorites []model.FavoriteTicker
	for rows.Next() {
		var f model.FavoriteTicker
		if err := rows.Scan(&f.UserID, &f.Ticker, &f.Name, &f.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan favorite: %w", err)
		}
		favorites = append(favorites, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate favorites: %w", err)
	}
	return favorites, nil
}

// FindPreferences はブリーフィング設定を返す。未登録の場合はnilを返す。
func (r *PostgresUserRepo) FindPreferences(ctx context.Context, userID string) (*model.Preferences, error) {
	var style, focus string
	err := r.db.QueryRowContext(ctx,
		`SELECT style, focus FROM user_preferences WHERE user_id = $1`,
		userID,
	).Scan(&style, &focus)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find preferences: %w", err)
	}

	prefs := model.Preferences{
		Style: model.BriefingStyle(style),
		Focus: model.BriefingFocus(focus),
	}.Normalize()
	return &prefs, nil
}

// ListUsersWithFavorites はお気に入りが1件以上あるユーザーのIDを返す。
func (r *PostgresUserRepo) ListUsersWithFavorites(ctx context.Context) ([]string, error) {
	return r.listUserIDs(ctx,
		`SELECT DISTINCT user_id FROM favorite_stocks ORDER BY user_id`,
	)
}

// ListUsersWithoutBriefing はお気に入りがあり、指定エディションのブリーフィングがないユーザーのIDを返す。
func (r *PostgresUserRepo) ListUsersWithoutBriefing(ctx context.Context, date edition.Date) ([]string, error) {
	return r.listUserIDs(ctx,
		`SELECT DISTINCT f.user_id FROM favorite_stocks f
		 WHERE NOT EXISTS (
		   SELECT 1 FROM briefings b
		   WHERE b.user_id = f.user_id AND b.edition_date = $1
		 )
		 ORDER BY f.user_id`,
		date,
	)
}

func (r *PostgresUserRepo) listUserIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return ids, nil
}
