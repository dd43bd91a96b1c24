package wiidisc

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memFs(t *testing.T) afero.Fs {
	t.Helper()
	saved := fs
	fs = afero.NewMemMapFs()
	t.Cleanup(func() {
		fs = saved
	})
	return fs
}

func encryptBlock(t *testing.T, ks *KeyStore, index int) []byte {
	t.Helper()
	block, err := ks.Block(index)
	require.NoError(t, err)
	b := make([]byte, aes.BlockSize)
	block.Encrypt(b, b)
	return b
}

func TestLoadKeyStore(t *testing.T) {
	mfs := memFs(t)
	dir := "/keys"

	common := payload(keySize)
	require.NoError(t, afero.WriteFile(mfs, filepath.Join(dir, CommonKeyFile), common, 0o600))
	require.NoError(t, afero.WriteFile(mfs, filepath.Join(dir, VWiiKeyFile), bytes.Repeat([]byte{0x11}, keySize), 0o600))

	ks, err := LoadKeyStore(dir)
	require.NoError(t, err)

	want, err := NewKeyStore(common)
	require.NoError(t, err)
	assert.Equal(t, encryptBlock(t, want, StandardKey), encryptBlock(t, ks, StandardKey))

	_, err = ks.Block(KoreanKey)
	assert.ErrorIs(t, err, ErrUnknownKey)
	_, err = ks.Block(VWiiKey)
	assert.NoError(t, err)
	_, err = ks.Block(3)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestLoadKeyStoreErrors(t *testing.T) {
	mfs := memFs(t)

	_, err := LoadKeyStore("/missing")
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, afero.WriteFile(mfs, filepath.Join("/short", CommonKeyFile), []byte("short"), 0o600))
	_, err = LoadKeyStore("/short")
	assert.Error(t, err)
}

func TestUnsealKeyStore(t *testing.T) {
	wrap, iv := payload(keySize), make([]byte, aes.BlockSize)
	plain := append(payload(keySize), make([]byte, keySize)...)
	plain[keySize] = 1

	block, err := aes.NewCipher(wrap)
	require.NoError(t, err)
	sealed := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(sealed, plain)

	ks, err := UnsealKeyStore(sealed, wrap, iv)
	require.NoError(t, err)

	want, err := NewKeyStore(plain[:keySize], plain[keySize:])
	require.NoError(t, err)
	assert.Equal(t, encryptBlock(t, want, StandardKey), encryptBlock(t, ks, StandardKey))
	assert.Equal(t, encryptBlock(t, want, KoreanKey), encryptBlock(t, ks, KoreanKey))

	_, err = UnsealKeyStore(sealed[:10], wrap, iv)
	assert.Error(t, err)
	_, err = UnsealKeyStore(sealed, wrap, iv[:4])
	assert.Error(t, err)
}
