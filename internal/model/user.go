// Package model はドメインモデルを定義する。
package model

// FavoriteTicker はユーザーのお気に入り銘柄を表す。
// Rankはユーザーごとに1始まりの連番で、(UserID, Rank)は一意。
type FavoriteTicker struct {
	UserID string
	Ticker string
	Name   string
	Rank   int
}

// BriefingStyle はブリーフィングの文体を表す。
type BriefingStyle string

const (
	// StyleConcise は簡潔な文体。
	StyleConcise BriefingStyle = "concise"
	// StyleDetailed は詳細な文体。
	StyleDetailed BriefingStyle = "detailed"
)

// BriefingFocus はブリーフィングで重視する観点を表す。
type BriefingFocus string

const (
	// FocusAll は価格とニュースの両方を扱う。
	FocusAll BriefingFocus = "all"
	// FocusPrice は価格動向を重視する。
	FocusPrice BriefingFocus = "price"
	// FocusNews はニュースを重視する。
	FocusNews BriefingFocus = "news"
)

// Preferences はユーザーのブリーフィング設定を表す。
type Preferences struct {
	Style BriefingStyle
	Focus BriefingFocus
}

// DefaultPreferences は設定が未登録のユーザーに適用する既定値を返す。
func DefaultPreferences() Preferences {
	return Preferences{Style: StyleConcise, Focus: FocusAll}
}

// Normalize は未知の値を既定値に置き換えた設定を返す。
func (p Preferences) Normalize() Preferences {
	out := p
	switch p.Style {
	case StyleConcise, StyleDetailed:
	default:
		out.Style = StyleConcise
	}
	switch p.Focus {
	case FocusAll, FocusPrice, FocusNews:
	default:
		out.Focus = FocusAll
	}
	return out
}

// Tickers はお気に入り銘柄のティッカーをRank順に返す。
// 引数はRank昇順で並んでいることを前提とする。
func Tickers(favorites []FavoriteTicker) []string {
	out := make([]string, len(favorites))
	for i, f := range favorites {
		out[i] = f.Ticker
	}
	return out
}
