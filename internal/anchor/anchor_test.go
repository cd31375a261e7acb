package anchor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAttribute(t *testing.T) {
	t.Run("full constraint set", func(t *testing.T) {
		// given
		attr := `#[account(
            init_if_needed,
            payer = user,
            space = 8 + Vault::INIT_SPACE,
            seeds = [b"vault", user.key().as_ref()],
            bump,
            has_one = owner @ VaultError::Unauthorized,
            constraint = vault.amount == amount @ VaultError::Mismatch,
            token::authority = user,
        )]`

		// when
		cs, ok, err := ParseAttribute(attr)

		// then
		require.NoError(t, err)
		require.True(t, ok)
		kinds := make([]ConstraintKind, len(cs))
		for i, c := range cs {
			kinds[i] = c.Kind
		}
		assert.Equal(t, []ConstraintKind{
			ConstraintInitIfNeeded, ConstraintPayer, ConstraintSpace, ConstraintSeeds,
			ConstraintBump, ConstraintHasOne, ConstraintExpr, ConstraintToken,
		}, kinds)

		hasOne, _ := Constraints(cs).Get(ConstraintHasOne)
		assert.Equal(t, "owner", hasOne.Value)
		assert.Equal(t, "VaultError::Unauthorized", hasOne.Error)

		expr, _ := Constraints(cs).Get(ConstraintExpr)
		assert.Equal(t, "vault.amount == amount", expr.Value)

		seeds, _ := Constraints(cs).Get(ConstraintSeeds)
		assert.Equal(t, `[b"vault", user.key().as_ref()]`, seeds.Value)
	})

	t.Run("bare account attribute", func(t *testing.T) {
		cs, ok, err := ParseAttribute("#[account]")

		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, cs)
	})

	t.Run("other attributes are ignored", func(t *testing.T) {
		_, ok, err := ParseAttribute("#[instruction(amount: u64)]")

		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown keys stay unknown", func(t *testing.T) {
		cs, _, err := ParseAttribute("#[account(mut, frobnicate = 3)]")

		require.NoError(t, err)
		require.Len(t, cs, 2)
		assert.Equal(t, ConstraintUnknown, cs[1].Kind)
		assert.True(t, Constraints(cs).HasUnknown())
	})

	t.Run("unbalanced input", func(t *testing.T) {
		cs, err := ParseConstraints(`mut, seeds = [b"x", a.key().as_ref()`)

		assert.True(t, errors.Is(err, ErrUnbalanced))
		require.Len(t, cs, 1)
		assert.Equal(t, ConstraintUnknown, cs[0].Kind)
	})
}

func TestSplitTopLevel(t *testing.T) {
	parts, err := SplitTopLevel(`a, f(b, c), [d, e], "x,y"`, ',')

	require.NoError(t, err)
	assert.Equal(t, []string{"a", " f(b, c)", " [d, e]", ` "x,y"`}, parts)

	_, err = SplitTopLevel("a, (b]", ',')
	assert.ErrorIs(t, err, ErrUnbalanced)
}

func TestClassifyType(t *testing.T) {
	tests := []struct {
		raw      string
		kind     AccountKind
		inner    string
		untyped  bool
		boxed    bool
		optional bool
	}{
		{raw: "Account<'info, Vault>", kind: TypeAccount, inner: "Vault"},
		{raw: "Box<Account<'info, token::TokenAccount>>", kind: TypeAccount, inner: "TokenAccount", boxed: true},
		{raw: "Option<Signer<'info>>", kind: TypeSigner, optional: true},
		{raw: "Program<'info, System>", kind: TypeProgram, inner: "System"},
		{raw: "AccountInfo<'info>", kind: TypeAccountInfo, untyped: true},
		{raw: "UncheckedAccount<'info>", kind: TypeUnchecked, untyped: true},
		{raw: "InterfaceAccount<'info, Mint>", kind: TypeInterfaceAccount, inner: "Mint"},
		{raw: "Sysvar<'info, Rent>", kind: TypeSysvar, inner: "Rent"},
		{raw: "u64", kind: TypeUnknown, untyped: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got := ClassifyType(tt.raw)

			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.inner, got.Inner)
			assert.Equal(t, tt.untyped, got.Untyped())
			assert.Equal(t, tt.boxed, got.Boxed)
			assert.Equal(t, tt.optional, got.Optional)
		})
	}
}

func TestParseSeeds(t *testing.T) {
	args := map[string]bool{"extra": true}

	short, ok := ParseSeeds(`[b"pool", mint.key().as_ref()]`, args)
	require.True(t, ok)
	long, ok := ParseSeeds(`[b"pool", mint.key().as_ref(), extra.to_le_bytes().as_ref()]`, args)
	require.True(t, ok)

	assert.Equal(t, SeedLiteral, short[0].Kind)
	assert.Equal(t, "pool", short[0].Ref)
	assert.Equal(t, SeedAccountKey, short[1].Kind)
	assert.Equal(t, "mint", short[1].Ref)
	assert.Equal(t, SeedArgument, long[2].Kind)
	assert.False(t, long[2].Discriminating())
	assert.True(t, IsPrefix(short, long))
	assert.False(t, IsPrefix(long, short))
	assert.Equal(t, `[b"pool",mint.key()]`, SeedSignature(short))

	constSeeds, ok := ParseSeeds(`[crate::VAULT_SEED, &[bump]]`, nil)
	require.True(t, ok)
	assert.Equal(t, SeedConstant, constSeeds[0].Kind)
	assert.Equal(t, "bump", constSeeds[1].Norm)

	_, ok = ParseSeeds("VAULT_SEEDS", nil)
	assert.False(t, ok)
}
