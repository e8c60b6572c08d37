package credstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealAndOpenRoundTrip(t *testing.T) {
	passphrase := []byte("correct horse battery staple")
	plaintext := []byte(`{"access_token":"secret","refresh_token":"even-more-secret"}`)

	blob, err := sealToken(passphrase, plaintext)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "secret")

	opened, err := openToken(passphrase, blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestOpenWithWrongPassphraseFails(t *testing.T) {
	blob, err := sealToken([]byte("right"), []byte("payload"))
	require.NoError(t, err)

	_, err = openToken([]byte("wrong"), blob)
	require.Error(t, err)
}

func TestSealUsesFreshSaltPerWrite(t *testing.T) {
	passphrase := []byte("passphrase")
	plaintext := []byte("payload")

	first, err := sealToken(passphrase, plaintext)
	require.NoError(t, err)
	second, err := sealToken(passphrase, plaintext)
	require.NoError(t, err)

	// одинаковый вход дает разные конверты благодаря свежей соли
	assert.NotEqual(t, first, second)
}

func TestOpenRejectsGarbage(t *testing.T) {
	_, err := openToken([]byte("passphrase"), []byte("not an envelope"))
	require.Error(t, err)
}

func TestOpenRejectsUnknownVersion(t *testing.T) {
	_, err := openToken([]byte("passphrase"), []byte(`{"v":99,"salt":"","cipher":""}`))
	require.Error(t, err)
}
