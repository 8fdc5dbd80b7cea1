package crypt

import (
	"fmt"

	"github.com/tsawler/docworker/core"
)

// Permission bits of the /P entry that are reported to hosts.
const (
	PermPrint                 int32 = 1 << 2
	PermModifyContents        int32 = 1 << 3
	PermCopy                  int32 = 1 << 4
	PermModifyAnnotations     int32 = 1 << 5
	PermFillInteractiveForms  int32 = 1 << 8
	PermCopyForAccessibility  int32 = 1 << 9
	PermAssemble              int32 = 1 << 10
	PermPrintHighQuality      int32 = 1 << 11
	permissionsReservedOnBits int32 = -3904 // bits 7-8 and 13-32 set
)

var reportedPermissions = []int32{
	PermPrint, PermModifyContents, PermCopy, PermModifyAnnotations,
	PermFillInteractiveForms, PermCopyForAccessibility, PermAssemble,
	PermPrintHighQuality,
}

// PermissionList returns the granted permission bits in ascending order.
func PermissionList(p int32) []int32 {
	var out []int32
	for _, flag := range reportedPermissions {
		if p&flag != 0 {
			out = append(out, flag)
		}
	}
	return out
}

// Options configures NewStandardEncryption.
type Options struct {
	UserPassword  string
	OwnerPassword string
	Permissions   int32
	// AES selects revision 4 with AESV2; otherwise revision 3 RC4-128.
	AES bool
}

// NewStandardEncryption builds an /Encrypt dictionary for fileID and the
// handler that encrypts objects for it.
func NewStandardEncryption(opts Options, fileID []byte) (core.Dict, *Handler, error) {
	pr := params{
		r:               3,
		keyLen:          16,
		p:               opts.Permissions | permissionsReservedOnBits,
		id:              fileID,
		encryptMetadata: true,
	}
	if opts.AES {
		pr.r = 4
	}

	user := legacyPasswordBytes(opts.UserPassword)
	owner := legacyPasswordBytes(opts.OwnerPassword)
	pr.o = computeO(pr, owner, user)
	key := computeKey(pr, padPassword(user))
	pr.u = computeU(pr, key)

	dict := core.Dict{
		"Filter": core.Name("Standard"),
		"R":      core.Int(pr.r),
		"Length": core.Int(pr.keyLen * 8),
		"O":      core.String(pr.o),
		"U":      core.String(pr.u),
		"P":      core.Int(pr.p),
	}
	h := &Handler{
		key:             key,
		revision:        pr.r,
		encryptMetadata: true,
		permissions:     pr.p,
		strMethod:       methodRC4,
		stmMethod:       methodRC4,
	}
	if opts.AES {
		dict["V"] = core.Int(4)
		dict["CF"] = core.Dict{
			"StdCF": core.Dict{
				"CFM":       core.Name("AESV2"),
				"AuthEvent": core.Name("DocOpen"),
				"Length":    core.Int(16),
			},
		}
		dict["StmF"] = core.Name("StdCF")
		dict["StrF"] = core.Name("StdCF")
		h.strMethod, h.stmMethod = methodAESV2, methodAESV2
	} else {
		dict["V"] = core.Int(2)
	}

	// Sanity check: the generated dictionary must authenticate.
	if _, ok := authenticateUser(pr, user); !ok {
		return nil, nil, fmt.Errorf("generated encryption dictionary does not authenticate")
	}
	return dict, h, nil
}
