// This package contains the symmetric cipher suites used to seal key material.
// Each suite is an AEAD keyed by a freshly generated random key. A sealed blob is laid out as
//   suite ID (1 byte) | nonce | AEAD ciphertext
// so that the suite can be recovered from the blob alone.
package cipherutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/tjfoc/gmsm/sm4"
	"golang.org/x/crypto/chacha20poly1305"
)

// Suite names accepted in the config file.
const (
	SuiteAES256GCM         = "aes-256-gcm"
	SuiteSM4GCM            = "sm4-gcm"
	SuiteXChaCha20Poly1305 = "xchacha20-poly1305"
)

// ErrorOpen is returned when a blob cannot be opened: wrong key, unknown suite, or a corrupted/truncated blob.
var ErrorOpen = fmt.Errorf("无法解密数据")

// SymmetricCipher seals and opens byte slices with a symmetric key.
type SymmetricCipher interface {
	// Name is the suite name used in config files.
	Name() string
	// ID is the byte prefixed to every blob sealed by this suite.
	ID() byte
	// KeySize is the length of keys accepted by the suite in bytes.
	KeySize() int
	// Encrypt seals `plaintext` with `key` and returns the self-describing blob.
	Encrypt(plaintext []byte, key []byte) ([]byte, error)
	// Decrypt opens a blob produced by `Encrypt`. Any failure is reported as `ErrorOpen`.
	Decrypt(blob []byte, key []byte) ([]byte, error)
}

type aeadSuite struct {
	name    string
	id      byte
	keySize int
	newAEAD func(key []byte) (cipher.AEAD, error)
}

var suites = []*aeadSuite{
	{name: SuiteAES256GCM, id: 0x01, keySize: 32, newAEAD: newAESGCM},
	{name: SuiteSM4GCM, id: 0x02, keySize: sm4.BlockSize, newAEAD: newSM4GCM},
	{name: SuiteXChaCha20Poly1305, id: 0x03, keySize: chacha20poly1305.KeySize, newAEAD: chacha20poly1305.NewX},
}

// GetSuite looks up a cipher suite by its config name (case insensitive).
func GetSuite(name string) (SymmetricCipher, error) {
	for _, s := range suites {
		if strings.EqualFold(s.name, strings.TrimSpace(name)) {
			return s, nil
		}
	}

	return nil, fmt.Errorf("未知的加密套件 '%v'", name)
}

// SuiteNames lists the names of all supported suites.
func SuiteNames() []string {
	names := make([]string, len(suites))
	for i, s := range suites {
		names[i] = s.name
	}

	return names
}

// DecryptAny opens a blob sealed by any supported suite, selected by the blob's leading suite ID.
func DecryptAny(blob []byte, key []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, errors.Wrap(ErrorOpen, "密文为空")
	}

	for _, s := range suites {
		if s.id == blob[0] {
			return s.Decrypt(blob, key)
		}
	}

	return nil, errors.Wrapf(ErrorOpen, "未知的加密套件 ID %#x", blob[0])
}

// RandomKey generates `length` bytes from the system CSPRNG.
func RandomKey(length int) ([]byte, error) {
	key := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, errors.Wrap(err, "无法生成随机密钥")
	}

	return key, nil
}

func (s *aeadSuite) Name() string { return s.name }

func (s *aeadSuite) ID() byte { return s.id }

func (s *aeadSuite) KeySize() int { return s.keySize }

func (s *aeadSuite) Encrypt(plaintext []byte, key []byte) (encryptedBytes []byte, err error) {
	if len(key) != s.keySize {
		err = fmt.Errorf("%v 的密钥长度应为 %v 字节，得到 %v 字节", s.name, s.keySize, len(key))
		return
	}

	aead, err := s.newAEAD(key)
	if err != nil {
		return
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = io.ReadFull(rand.Reader, nonce); err != nil {
		return
	}

	encryptedBytes = make([]byte, 0, 1+len(nonce)+len(plaintext)+aead.Overhead())
	encryptedBytes = append(encryptedBytes, s.id)
	encryptedBytes = append(encryptedBytes, nonce...)
	encryptedBytes = aead.Seal(encryptedBytes, nonce, plaintext, nil)
	return
}

func (s *aeadSuite) Decrypt(blob []byte, key []byte) ([]byte, error) {
	if len(key) != s.keySize {
		return nil, errors.Wrapf(ErrorOpen, "%v 的密钥长度应为 %v 字节", s.name, s.keySize)
	}

	if len(blob) == 0 || blob[0] != s.id {
		return nil, errors.Wrapf(ErrorOpen, "密文不是由 %v 加密的", s.name)
	}

	aead, err := s.newAEAD(key)
	if err != nil {
		return nil, errors.Wrap(ErrorOpen, err.Error())
	}

	nonceSize := aead.NonceSize()
	if len(blob) < 1+nonceSize+aead.Overhead() {
		return nil, errors.Wrap(ErrorOpen, "密文长度太短")
	}

	nonce, sealed := blob[1:1+nonceSize], blob[1+nonceSize:]
	decryptedBytes, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.Wrap(ErrorOpen, err.Error())
	}

	return decryptedBytes, nil
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	cipherBlock, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(cipherBlock)
}

func newSM4GCM(key []byte) (cipher.AEAD, error) {
	cipherBlock, err := sm4.NewCipher(key)
	if err != nil {
		return nil, err
	}

	return cipher.NewGCM(cipherBlock)
}
