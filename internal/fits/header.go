package fits

import (
	"fmt"
	"strconv"
	"strings"
)

// Card is a single 80-character header record, parsed into its parts.
// For string cards Value holds the unquoted content.
type Card struct {
	Key      string
	Value    string
	Comment  string
	IsString bool
}

// Header is an ordered set of cards. Order is preserved on write;
// lookups are by uppercase key, first match wins.
type Header struct {
	cards []Card
}

// NewHeader creates an empty header
func NewHeader() *Header {
	return &Header{}
}

// Cards returns the cards in order
func (h *Header) Cards() []Card {
	return h.cards
}

// Get returns the raw value of a card by key
func (h *Header) Get(key string) (string, bool) {
	key = strings.ToUpper(key)
	for _, c := range h.cards {
		if c.Key == key {
			return c.Value, true
		}
	}
	return "", false
}

// GetString returns a string card value, or "" if absent
func (h *Header) GetString(key string) string {
	v, _ := h.Get(key)
	return v
}

// GetFloat returns a numeric card value
func (h *Header) GetFloat(key string) (float64, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// GetInt returns an integer card value
func (h *Header) GetInt(key string) (int, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return i, true
}

func (h *Header) set(c Card) {
	c.Key = strings.ToUpper(c.Key)
	for i := range h.cards {
		if h.cards[i].Key == c.Key {
			h.cards[i] = c
			return
		}
	}
	h.cards = append(h.cards, c)
}

// SetString sets a quoted string card
func (h *Header) SetString(key, value, comment string) {
	h.set(Card{Key: key, Value: value, Comment: comment, IsString: true})
}

// SetFloat sets a floating-point card. Whole numbers keep a trailing
// ".0" so readers see an unambiguous float (BZERO=130.0, not 130).
func (h *Header) SetFloat(key string, value float64, comment string) {
	s := strconv.FormatFloat(value, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	h.set(Card{Key: key, Value: s, Comment: comment})
}

// SetInt sets an integer card
func (h *Header) SetInt(key string, value int, comment string) {
	h.set(Card{Key: key, Value: strconv.Itoa(value), Comment: comment})
}

// SetBool sets a FITS logical card (T/F)
func (h *Header) SetBool(key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	h.set(Card{Key: key, Value: v, Comment: comment})
}

// AddHistory appends a HISTORY record. HISTORY cards are never
// deduplicated; each call appends a new line.
func (h *Header) AddHistory(line string) {
	h.cards = append(h.cards, Card{Key: "HISTORY", Value: line})
}

// History returns all HISTORY lines in order
func (h *Header) History() []string {
	var lines []string
	for _, c := range h.cards {
		if c.Key == "HISTORY" {
			lines = append(lines, c.Value)
		}
	}
	return lines
}

// Remove deletes all cards with the given key
func (h *Header) Remove(key string) {
	key = strings.ToUpper(key)
	out := h.cards[:0]
	for _, c := range h.cards {
		if c.Key != key {
			out = append(out, c)
		}
	}
	h.cards = out
}

// isStructural reports whether a key is produced by the writer itself
// and must not be duplicated from the card list.
func isStructural(key string) bool {
	switch key {
	case "SIMPLE", "BITPIX", "NAXIS", "NAXIS1", "NAXIS2", "END":
		return true
	}
	return false
}

// formatCard renders a card as an 80-byte record
func formatCard(c Card) string {
	var s string
	switch {
	case c.Key == "HISTORY" || c.Key == "COMMENT":
		s = fmt.Sprintf("%-8s%s", c.Key, c.Value)
	case c.IsString:
		quoted := "'" + strings.ReplaceAll(c.Value, "'", "''") + "'"
		s = fmt.Sprintf("%-8s= %-20s", c.Key, quoted)
		if c.Comment != "" {
			s += " / " + c.Comment
		}
	default:
		s = fmt.Sprintf("%-8s= %20s", c.Key, c.Value)
		if c.Comment != "" {
			s += " / " + c.Comment
		}
	}
	if len(s) > cardSize {
		s = s[:cardSize]
	}
	return s + strings.Repeat(" ", cardSize-len(s))
}

// parseValue strips FITS value syntax: quotes for strings, T/F left
// as-is, inline comments already removed by the caller.
func parseValue(raw string) (value string, isString bool) {
	if strings.HasPrefix(raw, "'") {
		endQuote := strings.LastIndex(raw, "'")
		if endQuote > 0 {
			return strings.TrimRight(raw[1:endQuote], " "), true
		}
		return strings.TrimLeft(strings.TrimRight(raw, " "), "'"), true
	}
	return raw, false
}
