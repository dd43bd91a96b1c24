package wiidisc

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// Common key indices as stored in a ticket.
const (
	StandardKey = iota
	KoreanKey
	VWiiKey
)

// KeyStore holds the common keys used to unwrap title keys. It is
// immutable once constructed and safe to share.
type KeyStore struct {
	blocks []cipher.Block
}

// NewKeyStore returns a KeyStore built from the raw 16-byte common keys,
// in ticket index order. A nil key leaves that index unavailable.
func NewKeyStore(keys ...[]byte) (*KeyStore, error) {
	ks := &KeyStore{
		blocks: make([]cipher.Block, len(keys)),
	}

	for i, key := range keys {
		if key == nil {
			continue
		}
		if len(key) != keySize {
			return nil, fmt.Errorf("wiidisc: wrong size for common key %d", i)
		}

		var err error
		if ks.blocks[i], err = aes.NewCipher(key); err != nil {
			return nil, err
		}
	}

	return ks, nil
}

// UnsealKeyStore decrypts sealed, a sequence of 16-byte common keys
// encrypted with AES-128-CBC under key and iv, and returns a KeyStore of
// the result.
func UnsealKeyStore(sealed, key, iv []byte) (*KeyStore, error) {
	if len(sealed) == 0 || len(sealed)%keySize != 0 {
		return nil, errors.New("wiidisc: sealed keys not a multiple of the key size")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != block.BlockSize() {
		return nil, errors.New("wiidisc: wrong IV size")
	}

	plain := make([]byte, len(sealed))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, sealed)

	keys := make([][]byte, 0, len(plain)/keySize)
	for i := 0; i < len(plain); i += keySize {
		keys = append(keys, plain[i:i+keySize])
	}

	return NewKeyStore(keys...)
}

// LoadKeyStore reads the common keys from directory. CommonKeyFile must
// exist, KoreanKeyFile and VWiiKeyFile are optional.
func LoadKeyStore(directory string) (*KeyStore, error) {
	keys := make([][]byte, 0, 3)

	for i, name := range []string{CommonKeyFile, KoreanKeyFile, VWiiKeyFile} {
		key, err := afero.ReadFile(fs, filepath.Join(directory, name))
		if err != nil {
			if i != StandardKey && os.IsNotExist(err) {
				keys = append(keys, nil)
				continue
			}
			return nil, err
		}
		keys = append(keys, key)
	}

	return NewKeyStore(keys...)
}

// Block returns the cipher for the common key at index.
func (ks *KeyStore) Block(index int) (cipher.Block, error) {
	if index < 0 || index >= len(ks.blocks) || ks.blocks[index] == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKey, index)
	}
	return ks.blocks[index], nil
}
