package payway

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// ShaSignKey is the entry carrying the message signature.
const ShaSignKey = "SHASIGN"

// Message is one exchange with the payment gateway: an ordered,
// string-keyed map. Keys are normalized to uppercase, values trimmed;
// empty values are dropped.
type Message struct {
	keys   []string
	values map[string]string
}

func NewMessage() *Message {
	return &Message{values: make(map[string]string)}
}

// Set stores a key/value pair, replacing an existing value in place.
// Empty values (after trimming) are ignored.
func (m *Message) Set(key, value string) {
	key = strings.ToUpper(strings.TrimSpace(key))
	value = strings.TrimSpace(value)
	if key == "" || value == "" {
		return
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *Message) SetInt64(key string, value int64) {
	m.Set(key, strconv.FormatInt(value, 10))
}

func (m *Message) Get(key string) (string, bool) {
	v, ok := m.values[strings.ToUpper(key)]
	return v, ok
}

func (m *Message) Int64(key string) (int64, bool) {
	s, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Bool reads a gateway boolean. The gateway serializes them as
// "true"/"false".
func (m *Message) Bool(key string) (bool, bool) {
	s, ok := m.Get(key)
	if !ok {
		return false, false
	}
	return strings.EqualFold(s, "true"), true
}

func (m *Message) delete(key string) {
	key = strings.ToUpper(key)
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// Sign computes the message signature with the given passphrase and
// stores it under SHASIGN, replacing any previous signature.
func (m *Message) Sign(passphrase string) {
	m.delete(ShaSignKey)
	m.Set(ShaSignKey, m.signature(passphrase))
}

// VerifySign checks the stored signature against a recomputation with
// the given passphrase. The comparison is case-insensitive. A message
// without a signature never verifies.
func (m *Message) VerifySign(passphrase string) bool {
	got, ok := m.Get(ShaSignKey)
	if !ok {
		return false
	}
	m.delete(ShaSignKey)
	want := m.signature(passphrase)
	m.Set(ShaSignKey, got)
	return strings.EqualFold(got, want)
}

// signature concatenates KEY=value for every entry in key-sorted order,
// joined by the passphrase, appends the passphrase once more, and
// returns the SHA-1 hex digest.
func (m *Message) signature(passphrase string) string {
	keys := make([]string, len(m.keys))
	copy(keys, m.keys)
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+m.values[k])
	}

	sum := sha1.Sum([]byte(strings.Join(parts, passphrase) + passphrase))
	return hex.EncodeToString(sum[:])
}

// Form renders the message as form-encodable values for the wire.
func (m *Message) Form() url.Values {
	out := make(url.Values, len(m.keys))
	for _, k := range m.keys {
		out.Set(k, m.values[k])
	}
	return out
}

// ParseForm builds a message from decoded form values, e.g. an inbound
// gateway callback.
func ParseForm(form url.Values) *Message {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m := NewMessage()
	for _, k := range keys {
		m.Set(k, form.Get(k))
	}
	return m
}
