package payway

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageNormalization(t *testing.T) {
	m := NewMessage()
	m.Set("orderid", " 42 ")
	m.Set("EMPTY", "   ")
	m.Set("Email", "someone@example.org")

	v, ok := m.Get("ORDERID")
	require.True(t, ok)
	assert.Equal(t, "42", v)

	_, ok = m.Get("EMPTY")
	assert.False(t, ok, "blank values must be dropped")

	v, ok = m.Get("email")
	require.True(t, ok, "lookups are case-insensitive")
	assert.Equal(t, "someone@example.org", v)
}

func TestMessageSignVerify(t *testing.T) {
	const passphrase = "topsecret"

	m := NewMessage()
	m.Set("PROJECT", "readingroom")
	m.SetInt64("ORDERID", 7)
	m.SetInt64("AMOUNT", 1250)
	m.Sign(passphrase)

	assert.True(t, m.VerifySign(passphrase))
	assert.False(t, m.VerifySign("other"), "wrong passphrase must not verify")
}

func TestMessageVerifyIsCaseInsensitive(t *testing.T) {
	const passphrase = "topsecret"

	m := NewMessage()
	m.Set("ORDERID", "7")
	m.Sign(passphrase)

	sig, ok := m.Get(ShaSignKey)
	require.True(t, ok)

	upper := NewMessage()
	upper.Set("ORDERID", "7")
	upper.Set(ShaSignKey, strings.ToUpper(sig))

	assert.True(t, upper.VerifySign(passphrase))
}

func TestMessageTamperDetection(t *testing.T) {
	const passphrase = "topsecret"

	m := NewMessage()
	m.SetInt64("ORDERID", 7)
	m.SetInt64("AMOUNT", 1250)
	m.Sign(passphrase)

	// A changed amount invalidates the stored signature.
	m.SetInt64("AMOUNT", 1)
	assert.False(t, m.VerifySign(passphrase))
}

func TestMessageWithoutSignatureNeverVerifies(t *testing.T) {
	m := NewMessage()
	m.SetInt64("ORDERID", 7)

	assert.False(t, m.VerifySign("topsecret"))
}

func TestMessageSignReplacesPreviousSignature(t *testing.T) {
	const passphrase = "topsecret"

	m := NewMessage()
	m.SetInt64("ORDERID", 7)
	m.Sign(passphrase)
	first, _ := m.Get(ShaSignKey)

	m.SetInt64("AMOUNT", 900)
	m.Sign(passphrase)
	second, _ := m.Get(ShaSignKey)

	assert.NotEqual(t, first, second)
	assert.True(t, m.VerifySign(passphrase))
}

func TestMessageFormRoundTrip(t *testing.T) {
	const passphrase = "topsecret"

	m := NewMessage()
	m.Set("PROJECT", "readingroom")
	m.SetInt64("USERID", 3)
	m.SetInt64("AMOUNT", 4200)
	m.Set("EMAIL", "someone@example.org")
	m.Sign(passphrase)

	encoded := m.Form().Encode()

	form, err := url.ParseQuery(encoded)
	require.NoError(t, err)

	parsed := ParseForm(form)
	assert.True(t, parsed.VerifySign(passphrase))

	amount, ok := parsed.Int64("AMOUNT")
	require.True(t, ok)
	assert.Equal(t, int64(4200), amount)
}
