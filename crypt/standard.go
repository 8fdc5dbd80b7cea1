package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"hash"

	"golang.org/x/text/encoding/charmap"
)

// passwordPadding is the fixed 32-byte string used to pad passwords in
// revisions 2 to 4.
var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

// legacyPasswordBytes converts a password to the Latin-1 bytes revisions 2
// to 4 expect. Characters outside Latin-1 fall back to UTF-8.
func legacyPasswordBytes(password string) []byte {
	b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(password))
	if err != nil {
		return []byte(password)
	}
	return b
}

func modernPasswordBytes(password string) []byte {
	b := []byte(password)
	if len(b) > 127 {
		b = b[:127]
	}
	return b
}

func padPassword(pw []byte) []byte {
	out := make([]byte, 32)
	n := copy(out, pw)
	copy(out[n:], passwordPadding)
	return out
}

// params holds the /Encrypt entries that take part in key derivation.
type params struct {
	r               int
	keyLen          int
	o, u            []byte
	oe, ue          []byte
	p               int32
	id              []byte
	encryptMetadata bool
}

// computeKey derives the file key from a (padded) user password,
// revisions 2 to 4.
func computeKey(pr params, padded []byte) []byte {
	h := md5.New()
	h.Write(padded)
	h.Write(pr.o)
	var pb [4]byte
	binary.LittleEndian.PutUint32(pb[:], uint32(pr.p))
	h.Write(pb[:])
	h.Write(pr.id)
	if pr.r >= 4 && !pr.encryptMetadata {
		h.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	}
	sum := h.Sum(nil)
	if pr.r >= 3 {
		for i := 0; i < 50; i++ {
			s := md5.Sum(sum[:pr.keyLen])
			sum = s[:]
		}
	}
	return sum[:pr.keyLen]
}

// computeU computes the /U value for a file key, revisions 2 to 4.
func computeU(pr params, key []byte) []byte {
	if pr.r == 2 {
		return rc4Crypt(key, passwordPadding)
	}
	h := md5.New()
	h.Write(passwordPadding)
	h.Write(pr.id)
	x := rc4Crypt(key, h.Sum(nil))
	x = iterateRC4(key, x, 1, 19)
	return append(x, make([]byte, 16)...)
}

func iterateRC4(key, data []byte, from, to int) []byte {
	tmp := make([]byte, len(key))
	step := 1
	if from > to {
		step = -1
	}
	for i := from; ; i += step {
		for j := range key {
			tmp[j] = key[j] ^ byte(i)
		}
		data = rc4Crypt(tmp, data)
		if i == to {
			break
		}
	}
	return data
}

func ownerRC4Key(pr params, ownerPassword []byte) []byte {
	sum := md5.Sum(padPassword(ownerPassword))
	key := sum[:]
	if pr.r >= 3 {
		for i := 0; i < 50; i++ {
			s := md5.Sum(key)
			key = s[:]
		}
	}
	return key[:pr.keyLen]
}

// computeO computes the /O value, revisions 2 to 4. An empty owner password
// uses the user password.
func computeO(pr params, ownerPassword, userPassword []byte) []byte {
	if len(ownerPassword) == 0 {
		ownerPassword = userPassword
	}
	key := ownerRC4Key(pr, ownerPassword)
	o := rc4Crypt(key, padPassword(userPassword))
	if pr.r >= 3 {
		o = iterateRC4(key, o, 1, 19)
	}
	return o
}

// authenticateUser returns the file key when password is the user password.
func authenticateUser(pr params, password []byte) ([]byte, bool) {
	if pr.r >= 5 {
		return authenticateModern(pr, password, false)
	}
	key := computeKey(pr, padPassword(password))
	u := computeU(pr, key)
	n := 32
	if pr.r >= 3 {
		n = 16
	}
	if len(pr.u) < n || !bytes.Equal(u[:n], pr.u[:n]) {
		return nil, false
	}
	return key, true
}

// authenticateOwner recovers the user password from /O and authenticates
// with it.
func authenticateOwner(pr params, password []byte) ([]byte, bool) {
	if pr.r >= 5 {
		return authenticateModern(pr, password, true)
	}
	key := ownerRC4Key(pr, password)
	var userPadded []byte
	if pr.r == 2 {
		userPadded = rc4Crypt(key, pr.o)
	} else {
		userPadded = iterateRC4(key, append([]byte(nil), pr.o...), 19, 0)
	}
	return authenticateUser(pr, userPadded)
}

// authenticateModern implements revisions 5 and 6: hash validation against
// /U or /O followed by unwrapping /UE or /OE.
func authenticateModern(pr params, password []byte, owner bool) ([]byte, bool) {
	if len(pr.u) < 48 || len(pr.o) < 48 {
		return nil, false
	}
	var (
		hashed, salt, keySalt, udata, wrapped []byte
	)
	if owner {
		hashed, salt, keySalt, udata, wrapped = pr.o[:32], pr.o[32:40], pr.o[40:48], pr.u[:48], pr.oe
	} else {
		hashed, salt, keySalt, udata, wrapped = pr.u[:32], pr.u[32:40], pr.u[40:48], nil, pr.ue
	}
	if !bytes.Equal(hashR6(pr.r, password, salt, udata), hashed) {
		return nil, false
	}
	if len(wrapped) < 32 {
		return nil, false
	}
	key, err := aesNoIV(hashR6(pr.r, password, keySalt, udata), wrapped[:32], true)
	if err != nil {
		return nil, false
	}
	return key, true
}

// hashR6 is the revision 6 password hash (a plain SHA-256 for revision 5).
func hashR6(r int, password, salt, udata []byte) []byte {
	h := sha256.New()
	h.Write(password)
	h.Write(salt)
	h.Write(udata)
	k := h.Sum(nil)
	if r == 5 {
		return k
	}

	for i := 0; ; i++ {
		k1 := make([]byte, 0, 64*(len(password)+len(k)+len(udata)))
		for j := 0; j < 64; j++ {
			k1 = append(k1, password...)
			k1 = append(k1, k...)
			k1 = append(k1, udata...)
		}
		block, _ := aes.NewCipher(k[:16])
		e := make([]byte, len(k1))
		cipher.NewCBCEncrypter(block, k[16:32]).CryptBlocks(e, k1)

		sum := 0
		for _, b := range e[:16] {
			sum += int(b)
		}
		var next hash.Hash
		switch sum % 3 {
		case 0:
			next = sha256.New()
		case 1:
			next = sha512.New384()
		default:
			next = sha512.New()
		}
		next.Write(e)
		k = next.Sum(nil)

		if i >= 63 && int(e[len(e)-1]) <= i-31 {
			break
		}
	}
	return k[:32]
}

// objectKey derives the per-object key for RC4 and AESV2.
func objectKey(fileKey []byte, num, gen int, useAES bool) []byte {
	h := md5.New()
	h.Write(fileKey)
	h.Write([]byte{byte(num), byte(num >> 8), byte(num >> 16), byte(gen), byte(gen >> 8)})
	if useAES {
		h.Write([]byte("sAlT"))
	}
	n := len(fileKey) + 5
	if n > 16 {
		n = 16
	}
	return h.Sum(nil)[:n]
}
