package crypt

import (
	"fmt"

	"github.com/tsawler/docworker/core"
)

type method int

const (
	methodIdentity method = iota
	methodRC4
	methodAESV2
	methodAESV3
)

// Handler is the standard security handler for one document. It satisfies
// core.Decrypter and core.Encrypter.
type Handler struct {
	key             []byte
	revision        int
	strMethod       method
	stmMethod       method
	encryptMetadata bool
	permissions     int32
}

var (
	_ core.Decrypter = (*Handler)(nil)
	_ core.Encrypter = (*Handler)(nil)
)

// NewHandler authenticates password against the /Encrypt dictionary and
// returns a handler holding the file key. fileID is the first element of
// the trailer /ID array. The password is tried as the user password first
// and then as the owner password.
func NewHandler(encrypt core.Dict, fileID []byte, password string) (*Handler, error) {
	if filter, _ := encrypt.GetName("Filter"); filter != "Standard" {
		return nil, fmt.Errorf("%w: security handler %q", ErrUnsupported, filter)
	}

	pr, err := readParams(encrypt, fileID)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		revision:        pr.r,
		encryptMetadata: pr.encryptMetadata,
		permissions:     pr.p,
	}
	if err := h.selectMethods(encrypt); err != nil {
		return nil, err
	}

	pw := legacyPasswordBytes(password)
	if pr.r >= 5 {
		pw = modernPasswordBytes(password)
	}
	key, ok := authenticateUser(pr, pw)
	if !ok {
		key, ok = authenticateOwner(pr, pw)
	}
	if !ok {
		if password == "" {
			return nil, &PasswordError{Code: NeedPassword, Msg: "No password given"}
		}
		return nil, &PasswordError{Code: IncorrectPassword, Msg: "Incorrect Password"}
	}
	h.key = key
	return h, nil
}

func readParams(encrypt core.Dict, fileID []byte) (params, error) {
	pr := params{id: fileID, encryptMetadata: true}

	v, _ := encrypt.GetInt("V")
	r, ok := encrypt.GetInt("R")
	if !ok {
		return pr, fmt.Errorf("%w: missing /R", ErrUnsupported)
	}
	pr.r = int(r)
	if pr.r < 2 || pr.r > 6 {
		return pr, fmt.Errorf("%w: revision %d", ErrUnsupported, pr.r)
	}

	pr.keyLen = 5
	if v >= 2 {
		if l, ok := encrypt.GetInt("Length"); ok && l >= 40 && l <= 128 {
			pr.keyLen = int(l) / 8
		} else {
			pr.keyLen = 16
		}
	}
	if pr.r >= 5 {
		pr.keyLen = 32
	}

	o, _ := encrypt.GetString("O")
	u, _ := encrypt.GetString("U")
	oe, _ := encrypt.GetString("OE")
	ue, _ := encrypt.GetString("UE")
	pr.o, pr.u, pr.oe, pr.ue = []byte(o), []byte(u), []byte(oe), []byte(ue)
	if len(pr.o) < 32 || len(pr.u) < 32 {
		return pr, fmt.Errorf("%w: /O or /U too short", ErrUnsupported)
	}
	if pr.r <= 4 {
		pr.o = pr.o[:32]
	}

	p, _ := encrypt.GetInt("P")
	pr.p = int32(p)
	if em, ok := encrypt.GetBool("EncryptMetadata"); ok {
		pr.encryptMetadata = bool(em)
	}
	return pr, nil
}

func (h *Handler) selectMethods(encrypt core.Dict) error {
	v, _ := encrypt.GetInt("V")
	if v < 4 {
		h.strMethod, h.stmMethod = methodRC4, methodRC4
		return nil
	}

	cf, _ := encrypt.GetDict("CF")
	lookup := func(key string) (method, error) {
		name, ok := encrypt.GetName(key)
		if !ok || name == "Identity" {
			return methodIdentity, nil
		}
		filter, ok := cf.GetDict(string(name))
		if !ok {
			return methodIdentity, fmt.Errorf("%w: crypt filter %q not defined", ErrUnsupported, name)
		}
		cfm, _ := filter.GetName("CFM")
		switch cfm {
		case "V2":
			return methodRC4, nil
		case "AESV2":
			return methodAESV2, nil
		case "AESV3":
			return methodAESV3, nil
		case "None", "":
			return methodIdentity, nil
		}
		return methodIdentity, fmt.Errorf("%w: crypt method %q", ErrUnsupported, cfm)
	}

	var err error
	if h.strMethod, err = lookup("StrF"); err != nil {
		return err
	}
	h.stmMethod, err = lookup("StmF")
	return err
}

// Permissions returns the raw /P flags.
func (h *Handler) Permissions() int32 {
	return h.permissions
}

// Revision returns the security handler revision.
func (h *Handler) Revision() int {
	return h.revision
}

func (h *Handler) crypt(m method, ref core.IndirectRef, data []byte, encrypt bool) ([]byte, error) {
	switch m {
	case methodRC4:
		return rc4Crypt(objectKey(h.key, ref.Number, ref.Generation, false), data), nil
	case methodAESV2:
		key := objectKey(h.key, ref.Number, ref.Generation, true)
		if encrypt {
			return aesEncrypt(key, data)
		}
		return aesDecrypt(key, data)
	case methodAESV3:
		if encrypt {
			return aesEncrypt(h.key, data)
		}
		return aesDecrypt(h.key, data)
	}
	return data, nil
}

// DecryptString decrypts a string belonging to the object ref.
func (h *Handler) DecryptString(ref core.IndirectRef, data []byte) ([]byte, error) {
	return h.crypt(h.strMethod, ref, data, false)
}

// DecryptStream decrypts stream data belonging to the object ref.
func (h *Handler) DecryptStream(ref core.IndirectRef, dict core.Dict, data []byte) ([]byte, error) {
	if h.skipStream(dict) {
		return data, nil
	}
	return h.crypt(h.stmMethod, ref, data, false)
}

// EncryptString encrypts a string for the object ref.
func (h *Handler) EncryptString(ref core.IndirectRef, data []byte) ([]byte, error) {
	return h.crypt(h.strMethod, ref, data, true)
}

// EncryptStream encrypts stream data for the object ref.
func (h *Handler) EncryptStream(ref core.IndirectRef, dict core.Dict, data []byte) ([]byte, error) {
	if h.skipStream(dict) {
		return data, nil
	}
	return h.crypt(h.stmMethod, ref, data, true)
}

// skipStream reports streams that stay in the clear: unencrypted metadata
// and streams carrying an Identity crypt filter.
func (h *Handler) skipStream(dict core.Dict) bool {
	if !h.encryptMetadata && dict.IsType("Metadata") {
		return true
	}
	switch f := dict.Get("Filter").(type) {
	case core.Name:
		return f == "Crypt"
	case core.Array:
		if len(f) > 0 {
			if n, ok := f[0].(core.Name); ok && n == "Crypt" {
				return true
			}
		}
	}
	return false
}
