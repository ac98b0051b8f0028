package backup

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
	"os"
)

const (
	// EnvBackupKey and EnvBackupIV provide the encryption material
	EnvBackupKey = "STANDCTL_BACKUP_KEY"
	EnvBackupIV  = "STANDCTL_BACKUP_IV"

	credLen    = 16
	credMinLen = 6
)

// Creds holds the AES key and CTR IV for backup encryption
type Creds struct {
	Key []byte
	IV  []byte
}

// CredsFromEnv reads and validates the encryption material. Values must
// be 6 to 16 bytes; shorter ones are zero-padded to 16.
func CredsFromEnv() (*Creds, error) {
	key := os.Getenv(EnvBackupKey)
	iv := os.Getenv(EnvBackupIV)
	if key == "" || iv == "" {
		return nil, fmt.Errorf("define environment variables %s and %s", EnvBackupKey, EnvBackupIV)
	}

	if len(key) < credMinLen || len(key) > credLen || len(iv) < credMinLen || len(iv) > credLen {
		return nil, fmt.Errorf("key and IV must be between %d and %d bytes", credMinLen, credLen)
	}

	return &Creds{
		Key: pad([]byte(key)),
		IV:  pad([]byte(iv)),
	}, nil
}

func pad(b []byte) []byte {
	for len(b) < credLen {
		b = append(b, '0')
	}
	return b
}

// EncryptFile encrypts path with AES-CTR into path.enc and removes the
// plaintext on success.
func EncryptFile(path string, creds *Creds) (string, error) {
	block, err := aes.NewCipher(creds.Key)
	if err != nil {
		return "", fmt.Errorf("failed to initialize cipher: %w", err)
	}
	stream := cipher.NewCTR(block, creds.IV)

	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	encPath := path + ".enc"
	out, err := os.Create(encPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	writer := &cipher.StreamWriter{S: stream, W: out}
	if _, err := io.Copy(writer, in); err != nil {
		os.Remove(encPath)
		return "", fmt.Errorf("failed to encrypt %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}

	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("failed to remove plaintext %s: %w", path, err)
	}
	return encPath, nil
}

// DecryptFile reverses EncryptFile into dst. CTR mode decryption is the
// same stream operation as encryption.
func DecryptFile(path, dst string, creds *Creds) error {
	block, err := aes.NewCipher(creds.Key)
	if err != nil {
		return fmt.Errorf("failed to initialize cipher: %w", err)
	}
	stream := cipher.NewCTR(block, creds.IV)

	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	reader := &cipher.StreamReader{S: stream, R: in}
	if _, err := io.Copy(out, reader); err != nil {
		return fmt.Errorf("failed to decrypt %s: %w", path, err)
	}
	return out.Close()
}
