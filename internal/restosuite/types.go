package restosuite

import (
	"bytes"
	"encoding/json"
	"strings"
)

// LooseString tolerates the upstream's inconsistent scalar typing: the same
// field may arrive as a JSON string, a number, or null. It always decodes to
// its string form.
type LooseString string

func (s *LooseString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		*s = ""
		return nil
	}
	if trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return err
		}
		*s = LooseString(str)
		return nil
	}
	// Bare number (or other scalar): keep the literal token.
	*s = LooseString(trimmed)
	return nil
}

func (s LooseString) String() string { return string(s) }

// Shop is one entry from the upstream shop list.
type Shop struct {
	ShopID    LooseString `json:"shopId"`
	ShopName  string      `json:"shopName"`
	BrandName string      `json:"brandName"`
}

// Item is one entry from the upstream item list. Price is kept as a string
// end-to-end: the upstream returns numbers, numeric strings and the empty
// string for the same field.
type Item struct {
	ItemID    LooseString `json:"itemId"`
	ItemUID   string      `json:"itemUID"`
	ItemName  string      `json:"itemName"`
	IsActive  int         `json:"isActive"`
	BasePrice LooseString `json:"basePrice"`

	// Raw is the full upstream record, retained for the snapshot audit trail.
	Raw json.RawMessage `json:"-"`
}

// envelope is the fixed response wrapper on every gateway endpoint.
type envelope struct {
	Code    json.RawMessage `json:"openapi-code"`
	Msg     string          `json:"openapi-msg"`
	BizData json.RawMessage `json:"biz-data"`
	Detail  json.RawMessage `json:"openapi-error-detail"`
}

// codeString normalizes openapi-code, which arrives as either a string or a
// number, to its bare string form.
func (e *envelope) codeString() string {
	trimmed := strings.TrimSpace(string(e.Code))
	trimmed = strings.Trim(trimmed, `"`)
	return trimmed
}

// ok reports whether the envelope carries the success code. The gateway
// emits it as "0" or 0 depending on endpoint; anything else is a failure.
func (e *envelope) ok() bool {
	return e.codeString() == "0"
}

// listPayload is the biz-data shape shared by the shop and item list
// endpoints.
type listPayload struct {
	List json.RawMessage `json:"list"`
}

// credentialPayload is the biz-data shape of the token endpoints.
type credentialPayload struct {
	Token         string `json:"token"`
	RefreshToken  string `json:"refreshToken"`
	ExpiresSecond int64  `json:"expiresSecond"`
}
