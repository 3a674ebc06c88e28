package encryption

import (
	"bytes"
	"fmt"
	"testing"

	"podlog/internal/config"
	"podlog/internal/podlog"
)

func TestSimpleEncryptors_RoundTrip(t *testing.T) {
	t.Parallel()

	encryptors := map[string]podlog.Encryptor{
		"test": NewTestEncryptor(),
		"none": NoneEncryptor{},
	}
	inputs := [][]byte{
		[]byte("hello world"),
		{},
		bytes.Repeat([]byte{0x00, 0xff}, 5000),
	}

	for name, e := range encryptors {
		t.Run(name, func(t *testing.T) {
			if !e.IsConfigured() {
				t.Error("IsConfigured() = false, want true")
			}
			dc, err := e.Unlock("")
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			for _, in := range inputs {
				var enc, dec bytes.Buffer
				if err := e.Encrypt(bytes.NewReader(in), &enc); err != nil {
					t.Fatalf("Encrypt() error = %v", err)
				}
				if err := dc.Decrypt(&enc, &dec); err != nil {
					t.Fatalf("Decrypt() error = %v", err)
				}
				if !bytes.Equal(dec.Bytes(), in) {
					t.Errorf("round-trip of %d bytes returned %d bytes", len(in), dec.Len())
				}
			}
		})
	}
}

func TestTestEncryptor_OutputDiffersFromPlaintext(t *testing.T) {
	t.Parallel()

	var enc bytes.Buffer
	if err := NewTestEncryptor().Encrypt(bytes.NewReader([]byte("data")), &enc); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if !bytes.HasPrefix(enc.Bytes(), testHeader) {
		t.Error("Encrypt() output missing test header")
	}
}

func TestTestDecryptionContext_InvalidHeader(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	err := (&TestDecryptionContext{}).Decrypt(bytes.NewReader([]byte("not encrypted data")), &out)
	if err == nil {
		t.Error("Decrypt() with invalid header should return error")
	}
}

func TestNewEncryptorFromConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ     string
		want    string
		wantErr bool
	}{
		{typ: "", want: "*encryption.AgeEncryptor"},
		{typ: "age", want: "*encryption.AgeEncryptor"},
		{typ: "test", want: "*encryption.TestEncryptor"},
		{typ: "none", want: "encryption.NoneEncryptor"},
		{typ: "rot13", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			got, err := NewEncryptorFromConfig(config.EncryptionConfig{Type: tt.typ})
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewEncryptorFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if typeName(got) != tt.want {
				t.Errorf("NewEncryptorFromConfig() = %s, want %s", typeName(got), tt.want)
			}
		})
	}
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
