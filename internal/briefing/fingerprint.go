package briefing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/hitoshi/stockast/internal/edition"
)

type fingerprintInput struct {
	UserID string   `json:"userId"`
	Date   string   `json:"date"`
	Stocks []string `json:"stocks"`
}

// Fingerprint は生成入力（ユーザー・版日付・Rank順のティッカー）のSHA-256を16進で返す。
// 内容が変わった理由を追うためのもので、一意制約には使わない。
func Fingerprint(userID string, date edition.Date, tickers []string) string {
	if tickers == nil {
		tickers = []string{}
	}
	b, _ := json.Marshal(fingerprintInput{UserID: userID, Date: date.String(), Stocks: tickers})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
