package analysis

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xab-mack/anchorscan/internal/anchor"
	"github.com/xab-mack/anchorscan/internal/cache"
	"github.com/xab-mack/anchorscan/internal/model"
	"github.com/xab-mack/anchorscan/internal/rust"
	"github.com/xab-mack/anchorscan/internal/source"
)

func load(t *testing.T, name string) []source.File {
	t.Helper()
	files, err := source.LoadArchive("testdata/" + name)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	return files
}

func build(t *testing.T, files []source.File) *ProgramModel {
	t.Helper()
	m, err := Build(context.Background(), files, Options{Workers: 2})
	require.NoError(t, err)
	return m
}

func TestBuildSingleFileProgram(t *testing.T) {
	// given
	files := load(t, "vault.txtar")

	// when
	m := build(t, files)

	// then
	require.Len(t, m.Programs, 1)
	p := m.Programs[0]
	assert.Equal(t, "vault", p.Name)
	assert.Equal(t, "Vau1t11111111111111111111111111111111111111", p.ID)
	require.Len(t, p.Instructions, 2)
	assert.Equal(t, "withdraw", p.Instructions[0].Name)
	assert.Equal(t, "Withdraw", p.Instructions[0].Context)
	assert.Equal(t, []Param{{Name: "amount", Type: "u64"}}, p.Instructions[0].Params)

	w := m.Context("vault", "Withdraw")
	require.NotNil(t, w)
	owner := w.Field("owner")
	require.NotNil(t, owner)
	assert.Equal(t, anchor.TypeAccountInfo, owner.Type.Kind)
	assert.True(t, owner.Writable())
	assert.False(t, owner.Signer())
	assert.False(t, owner.OwnerChecked())
	assert.True(t, owner.Checked())

	vault := w.Field("vault")
	require.NotNil(t, vault.Pda)
	assert.Equal(t, BumpStored, vault.Pda.Bump)
	assert.Equal(t, "Vault", vault.Pda.InnerType)
	assert.Equal(t, `Withdraw.vault:[b"vault",owner.key()]`, vault.Pda.Signature)

	require.NotNil(t, m.State("vault", "Vault"))
	require.Len(t, m.Errors, 1)
	assert.Equal(t, []string{"Overflow", "Unauthorized"}, m.Errors[0].Variants)
	assert.Empty(t, m.Coverage)
}

func TestBodyFacts(t *testing.T) {
	m := build(t, load(t, "vault.txtar"))
	p := m.Program("vault")

	t.Run("lamport transfer writes", func(t *testing.T) {
		body := p.Instruction("withdraw").Body

		require.Len(t, body.Writes, 2)
		assert.Equal(t, "vault", body.Writes[0].Account)
		assert.True(t, body.Writes[0].Lamports)
		assert.Equal(t, "owner", body.Writes[1].Account)
		assert.True(t, body.Touches("owner"))
		assert.Empty(t, body.DataBorrows)
	})

	t.Run("unchecked and checked arithmetic", func(t *testing.T) {
		body := p.Instruction("deposit").Body

		require.Len(t, body.Arithmetic, 2)
		plain := body.Arithmetic[0]
		assert.Equal(t, OpAdd, plain.Op)
		assert.Equal(t, Unchecked, plain.Semantics)
		assert.Equal(t, ProvArgument, plain.Left.Provenance)
		assert.Equal(t, ProvArgument, plain.Right.Provenance)
		assert.Equal(t, "amount+fee", plain.Signature)

		checked := body.Arithmetic[1]
		assert.Equal(t, Checked, checked.Semantics)
		assert.Equal(t, ProvAccountData, checked.Left.Provenance)
		assert.Equal(t, ProvDerived, checked.Right.Provenance)
		assert.Less(t, plain.Order, checked.Order)
	})

	t.Run("aliased account field write", func(t *testing.T) {
		body := p.Instruction("deposit").Body

		require.Len(t, body.Writes, 1)
		assert.Equal(t, "vault", body.Writes[0].Account)
		assert.Equal(t, "balance", body.Writes[0].Field)
	})
}

func TestBuildMultiFileProgram(t *testing.T) {
	// given
	files := load(t, "staking.txtar")

	// when
	m := build(t, files)

	// then
	require.Len(t, m.Programs, 1)
	p := m.Programs[0]
	assert.Equal(t, "staking", p.Name)
	assert.False(t, p.Synthetic)
	require.Len(t, p.Instructions, 2)

	stake := p.Instruction("stake")
	require.NotNil(t, stake)
	require.Len(t, stake.Body.Cpis, 1)
	cpi := stake.Body.Cpis[0]
	assert.Equal(t, CpiContextNew, cpi.Kind)
	assert.Equal(t, "token::transfer", cpi.Callee)
	assert.Equal(t, "token_program", cpi.ProgramAccount)
	assert.Equal(t, []string{"authority", "from", "to"}, cpi.Accounts)
	assert.Equal(t, Propagated, cpi.Handling)
	require.NotNil(t, cpi.Amount)
	assert.Equal(t, ProvArgument, cpi.Amount.Provenance)
	assert.Equal(t, "programs/staking/src/instructions/stake.rs", cpi.File)

	ctx := m.Context("staking", "Stake")
	require.NotNil(t, ctx)
	assert.Equal(t, "programs/staking/src/instructions/stake.rs", ctx.File)
	require.NotNil(t, m.State("staking", "Pool"))
}

func TestImplMethodsFoldIntoCaller(t *testing.T) {
	m := build(t, load(t, "staking.txtar"))

	claim := m.Program("staking").Instruction("claim")

	require.NotNil(t, claim)
	require.Len(t, claim.Body.Guards, 1)
	assert.Equal(t, "require", claim.Body.Guards[0].Macro)
	require.Len(t, claim.Body.Writes, 1)
	assert.Equal(t, "pool", claim.Body.Writes[0].Account)
	assert.Equal(t, "rewards", claim.Body.Writes[0].Field)
	assert.Less(t, claim.Body.Guards[0].Order, claim.Body.Writes[0].Order)
	assert.True(t, claim.Body.Touches("pool"))
}

func TestDerivationsSharePrefix(t *testing.T) {
	m := build(t, load(t, "pools.txtar"))

	ds := m.Derivations("pools")

	require.Len(t, ds, 2)
	assert.Equal(t, BumpCanonical, ds[0].Bump)
	assert.True(t, ds[1].Init)
	assert.True(t, anchor.IsPrefix(ds[0].Seeds, ds[1].Seeds))
	assert.Equal(t, anchor.SeedArgument, ds[1].Seeds[2].Kind)
}

func TestUnparseableFileBecomesCoverage(t *testing.T) {
	// given
	files := append(load(t, "vault.txtar"), source.File{
		Path:    "programs/vault/src/broken.rs",
		Content: []byte("}}}} ))) ]]] @@@"),
	})

	// when
	m := build(t, files)

	// then
	require.NotNil(t, m.Program("vault"))
	require.Len(t, m.Coverage, 1)
	assert.Equal(t, model.DiagnosticParseError, m.Coverage[0].Kind)
	assert.Equal(t, "programs/vault/src/broken.rs", m.Coverage[0].File)
	assert.Contains(t, m.Files, "programs/vault/src/broken.rs")
}

func TestDegradedContext(t *testing.T) {
	files := []source.File{{Path: "src/lib.rs", Content: []byte(`
#[program]
pub mod broken {
    use super::*;
    pub fn poke(ctx: Context<Poke>) -> Result<()> {
        Ok(())
    }
}

#[derive(Accounts)]
pub struct Poke<'info> {
    #[account(mut, constraint = thing.key().to_string().ends_with(']'))]
    pub thing: AccountInfo<'info>,
    pub user: Signer<'info>,
}
`)}}

	m := build(t, files)

	c := m.Context("broken", "Poke")
	require.NotNil(t, c)
	assert.True(t, c.Degraded)
	assert.True(t, m.Degraded("broken", "", "Poke"))
}

func TestSignaturesSurviveReformatting(t *testing.T) {
	// given
	files := load(t, "vault.txtar")
	reformatted := make([]source.File, len(files))
	for i, f := range files {
		body := strings.ReplaceAll(string(f.Content), "let total = amount + fee;", "// sum\n\n        let total = amount\n            + fee;")
		reformatted[i] = source.File{Path: f.Path, Content: []byte("\n\n" + body)}
	}

	// when
	before := build(t, files)
	after := build(t, reformatted)

	// then
	b := before.Program("vault").Instruction("deposit").Body
	a := after.Program("vault").Instruction("deposit").Body
	require.Len(t, a.Arithmetic, len(b.Arithmetic))
	for i := range b.Arithmetic {
		assert.Equal(t, b.Arithmetic[i].Signature, a.Arithmetic[i].Signature)
	}
	assert.NotEqual(t, b.Arithmetic[0].Line, a.Arithmetic[0].Line)
}

func TestRepeatedStatementsGetOrdinals(t *testing.T) {
	files := []source.File{{Path: "src/lib.rs", Content: []byte(`
#[program]
pub mod twice {
    use super::*;
    pub fn bump(ctx: Context<Bump>, n: u64) -> Result<()> {
        ctx.accounts.counter.value = ctx.accounts.counter.value + n;
        ctx.accounts.counter.value = ctx.accounts.counter.value + n;
        Ok(())
    }
}
`)}}

	m := build(t, files)

	body := m.Program("twice").Instruction("bump").Body
	require.Len(t, body.Arithmetic, 2)
	assert.Equal(t, body.Arithmetic[0].Signature+"#2", body.Arithmetic[1].Signature)
}

func TestBuildUsesCache(t *testing.T) {
	files := load(t, "vault.txtar")
	memo := cache.NewMemo[*Fragment]()
	opts := Options{Cache: memo}

	first, err := Build(context.Background(), files, opts)
	require.NoError(t, err)
	second, err := Build(context.Background(), files, opts)
	require.NoError(t, err)

	hits, _ := memo.Stats()
	assert.Equal(t, len(files), hits)
	assert.Equal(t, first, second)
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Build(ctx, load(t, "vault.txtar"), Options{})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolve(t *testing.T) {
	m := build(t, load(t, "vault.txtar"))

	assert.True(t, m.Resolve(model.Location{Program: "vault", Instruction: "withdraw", Context: "Withdraw", Field: "owner", SiteKind: model.SiteField}))
	assert.False(t, m.Resolve(model.Location{Program: "vault", Instruction: "steal", SiteKind: model.SiteField}))
	assert.False(t, m.Resolve(model.Location{Program: "vault", Context: "Withdraw", Field: "nope", SiteKind: model.SiteField}))
	assert.False(t, m.Resolve(model.Location{Program: "other", SiteKind: model.SiteField}))
}

func TestHardcodedProgram(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{ref: "token::ID", want: true},
		{ref: "spl_token::id()", want: true},
		{ref: "crate::ID", want: true},
		{ref: `pubkey!("11111111111111111111")`, want: true},
		{ref: "ctx.accounts.target_program.key()", want: false},
		{ref: "program_id", want: false},
		{ref: "", want: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HardcodedProgram(tt.ref), tt.ref)
	}
}

func TestContextTypeName(t *testing.T) {
	assert.Equal(t, "Deposit", contextTypeName("Context<Deposit>"))
	assert.Equal(t, "Deposit", contextTypeName("Context<'_,'_,'_,'info,Deposit<'info>>"))
	assert.Equal(t, "Swap", contextTypeName("anchor_lang::context::Context<instructions::Swap<'info>>"))
	assert.Equal(t, "", contextTypeName("u64"))
}

func TestCoverageMarkerErr(t *testing.T) {
	parse := CoverageMarker{Kind: model.DiagnosticParseError, File: "a.rs", Line: 3, Reason: "no recoverable item"}
	degraded := CoverageMarker{Kind: model.DiagnosticModelError, File: "b.rs", Program: "p", Context: "Ctx", Reason: "bad"}

	var perr *rust.ParseError
	require.ErrorAs(t, parse.Err(), &perr)
	assert.Equal(t, 3, perr.Line)

	var merr *ModelError
	require.ErrorAs(t, degraded.Err(), &merr)
	assert.Equal(t, "model b.rs: context Ctx: bad", merr.Error())
}

func TestGuardBoundsAbove(t *testing.T) {
	tests := []struct {
		name  string
		guard Guard
		want  bool
	}{
		{"upper bound", Guard{Kind: GuardRequire, Macro: "require", Condition: "amount <= MAX, E::Big"}, true},
		{"constant on the left", Guard{Kind: GuardRequire, Macro: "require", Condition: "MAX > amount, E::Big"}, true},
		{"lower bound", Guard{Kind: GuardRequire, Macro: "require", Condition: "amount > 0, E::Zero"}, false},
		{"self comparison", Guard{Kind: GuardRequire, Macro: "require", Condition: "amount < amount + 1, E::Big"}, false},
		{"conjunction", Guard{Kind: GuardRequire, Macro: "require", Condition: "amount > 0 && (amount < LIMIT), E::Big"}, true},
		{"require_gte", Guard{Kind: GuardRequire, Macro: "require_gte", Condition: "vault.cap, amount"}, true},
		{"require_gte reversed", Guard{Kind: GuardRequire, Macro: "require_gte", Condition: "amount, 1"}, false},
		{"aborting branch", Guard{Kind: GuardBranch, Condition: "amount > u64::MAX / 2"}, true},
		{"aborting branch lower", Guard{Kind: GuardBranch, Condition: "amount < MIN"}, false},
		{"equality", Guard{Kind: GuardAssert, Macro: "assert_eq", Condition: "amount, 5"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.guard.BoundsAbove("amount"))
		})
	}
}
