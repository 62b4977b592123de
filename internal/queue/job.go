// Package queue はブリーフィング生成ジョブのキューを提供する。
// 冪等キーによる重複排除、少なくとも1回の配信、リトライとバックオフ、
// dead状態への移行、完了/失敗ジョブの保持期間管理を行う。
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/stockast/internal/edition"
)

// Kind はジョブの種類を表す。
type Kind string

const (
	// KindGenerateEdition は版日付単位のバッチ生成ジョブ。
	KindGenerateEdition Kind = "generate-edition"
	// KindGenerateUserBriefing はユーザー単位のオンデマンド生成ジョブ。
	KindGenerateUserBriefing Kind = "generate-user-briefing"
	// KindAggregatePopularity は人気銘柄の集計ジョブ。
	KindAggregatePopularity Kind = "aggregate-popularity"
)

// ErrInvalidPayload はペイロードの検証またはデコードに失敗した場合のエラー。
var ErrInvalidPayload = errors.New("invalid job payload")

// Payload はジョブの種類ごとの型付きペイロード。
type Payload interface {
	Kind() Kind
	Validate() error
}

// GenerateEdition は全対象ユーザーのブリーフィングを生成するジョブ。
type GenerateEdition struct {
	EditionDate edition.Date `json:"editionDate"`
	Force       bool         `json:"force,omitempty"`
}

func (GenerateEdition) Kind() Kind { return KindGenerateEdition }

// Validate は版日付が設定されていることを確認する。
func (p GenerateEdition) Validate() error {
	if p.EditionDate.IsZero() {
		return fmt.Errorf("%w: editionDate is required", ErrInvalidPayload)
	}
	return nil
}

// GenerateUserBriefing は1ユーザー分のブリーフィングを生成するジョブ。
type GenerateUserBriefing struct {
	UserID      string       `json:"userId"`
	EditionDate edition.Date `json:"editionDate"`
	Force       bool         `json:"force,omitempty"`
}

func (GenerateUserBriefing) Kind() Kind { return KindGenerateUserBriefing }

// Validate はユーザーIDと版日付が設定されていることを確認する。
func (p GenerateUserBriefing) Validate() error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidPayload)
	}
	if p.EditionDate.IsZero() {
		return fmt.Errorf("%w: editionDate is required", ErrInvalidPayload)
	}
	return nil
}

// AggregatePopularity は版日付の人気銘柄を集計するジョブ。
type AggregatePopularity struct {
	EditionDate edition.Date `json:"editionDate"`
}

func (AggregatePopularity) Kind() Kind { return KindAggregatePopularity }

// Validate は版日付が設定されていることを確認する。
func (p AggregatePopularity) Validate() error {
	if p.EditionDate.IsZero() {
		return fmt.Errorf("%w: editionDate is required", ErrInvalidPayload)
	}
	return nil
}

// IdempotencyKey はペイロードの論理的な同一性を表すキーを返す。
//
//	generate-edition:2026-10-14[:force]
//	generate-user-briefing:2026-10-14:<userID>[:force]
//	aggregate-popularity:2026-10-14
func IdempotencyKey(p Payload) string {
	switch v := p.(type) {
	case GenerateEdition:
		return withForce(fmt.Sprintf("%s:%s", v.Kind(), v.EditionDate), v.Force)
	case GenerateUserBriefing:
		return withForce(fmt.Sprintf("%s:%s:%s", v.Kind(), v.EditionDate, v.UserID), v.Force)
	case AggregatePopularity:
		return fmt.Sprintf("%s:%s", v.Kind(), v.EditionDate)
	default:
		return string(p.Kind())
	}
}

func withForce(key string, force bool) string {
	if force {
		return key + ":force"
	}
	return key
}

// Encode はペイロードを検証してJSONにシリアライズする。
func Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return b, nil
}

// Decode はジョブ種類に応じた型でペイロードをデコードし、検証する。
func Decode(kind Kind, data []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindGenerateEdition:
		var v GenerateEdition
		err = json.Unmarshal(data, &v)
		p = v
	case KindGenerateUserBriefing:
		var v GenerateUserBriefing
		err = json.Unmarshal(data, &v)
		p = v
	case KindAggregatePopularity:
		var v AggregatePopularity
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidPayload, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
