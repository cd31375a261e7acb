package anchor

import (
	"strings"
)

type AccountKind string

const (
	TypeAccount          AccountKind = "Account"
	TypeAccountLoader    AccountKind = "AccountLoader"
	TypeInterfaceAccount AccountKind = "InterfaceAccount"
	TypeSigner           AccountKind = "Signer"
	TypeProgram          AccountKind = "Program"
	TypeInterface        AccountKind = "Interface"
	TypeSystemAccount    AccountKind = "SystemAccount"
	TypeAccountInfo      AccountKind = "AccountInfo"
	TypeUnchecked        AccountKind = "UncheckedAccount"
	TypeSysvar           AccountKind = "Sysvar"
	TypeProgramAccount   AccountKind = "ProgramAccount"
	TypeUnknown          AccountKind = "Unknown"
)

var accountKinds = map[string]AccountKind{
	"Account":          TypeAccount,
	"AccountLoader":    TypeAccountLoader,
	"InterfaceAccount": TypeInterfaceAccount,
	"Signer":           TypeSigner,
	"Program":          TypeProgram,
	"Interface":        TypeInterface,
	"SystemAccount":    TypeSystemAccount,
	"AccountInfo":      TypeAccountInfo,
	"UncheckedAccount": TypeUnchecked,
	"Sysvar":           TypeSysvar,
	"ProgramAccount":   TypeProgramAccount,
}

// AccountType is the declared type of an account field.
type AccountType struct {
	Kind AccountKind `json:"kind"`
	// Inner is the last path segment of the data/program type argument.
	Inner    string `json:"inner,omitempty"`
	Raw      string `json:"raw"`
	Boxed    bool   `json:"boxed,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// ClassifyType parses a field type such as `Box<Account<'info, Vault>>`.
func ClassifyType(raw string) AccountType {
	t := AccountType{Kind: TypeUnknown, Raw: strings.TrimSpace(raw)}
	s := strings.Join(strings.Fields(raw), "")
	for {
		switch {
		case strings.HasPrefix(s, "Box<") && strings.HasSuffix(s, ">"):
			t.Boxed = true
			s = s[len("Box<") : len(s)-1]
			continue
		case strings.HasPrefix(s, "Option<") && strings.HasSuffix(s, ">"):
			t.Optional = true
			s = s[len("Option<") : len(s)-1]
			continue
		}
		break
	}
	name, args := s, ""
	if open := strings.IndexByte(s, '<'); open >= 0 && strings.HasSuffix(s, ">") {
		name, args = s[:open], s[open+1:len(s)-1]
	}
	name = lastSegment(name)
	if k, ok := accountKinds[name]; ok {
		t.Kind = k
	}
	parts, err := SplitTopLevel(angleToParen(args), ',')
	if err != nil {
		return t
	}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || strings.HasPrefix(p, "'") {
			continue
		}
		t.Inner = lastSegment(parenToAngle(p))
	}
	return t
}

func angleToParen(s string) string {
	return strings.NewReplacer("<", "(", ">", ")").Replace(s)
}

func parenToAngle(s string) string {
	return strings.NewReplacer("(", "<", ")", ">").Replace(s)
}

func lastSegment(path string) string {
	if i := strings.LastIndex(path, "::"); i >= 0 {
		// keep generic arguments attached to the last segment
		if j := strings.IndexByte(path, '<'); j < 0 || i < j {
			return path[i+2:]
		}
	}
	return path
}

// Untyped accounts carry no owner or layout guarantee from the framework.
func (t AccountType) Untyped() bool {
	switch t.Kind {
	case TypeAccountInfo, TypeUnchecked, TypeUnknown:
		return true
	}
	return false
}

func (t AccountType) IsProgram() bool {
	return t.Kind == TypeProgram || t.Kind == TypeInterface
}

// IsData reports types that deserialize program-owned data with an owner check.
func (t AccountType) IsData() bool {
	switch t.Kind {
	case TypeAccount, TypeAccountLoader, TypeInterfaceAccount, TypeProgramAccount:
		return true
	}
	return false
}

var token2022Markers = []string{"Token2022", "TokenInterface", "token_2022", "token_interface"}

// TokenInterface reports accounts that may belong to the Token-2022 program.
func (t AccountType) TokenInterface() bool {
	if t.Kind == TypeInterfaceAccount || t.Kind == TypeInterface {
		return true
	}
	for _, m := range token2022Markers {
		if strings.Contains(t.Raw, m) {
			return true
		}
	}
	return false
}

// TokenAccount reports SPL token accounts and mints.
func (t AccountType) TokenAccount() bool {
	switch t.Inner {
	case "TokenAccount", "Mint":
		return true
	}
	return false
}
