package plugins

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xab-mack/anchorscan/internal/analysis"
	"github.com/xab-mack/anchorscan/internal/model"
	"github.com/xab-mack/anchorscan/internal/source"
)

func load(t *testing.T, name string) *analysis.ProgramModel {
	t.Helper()
	files, err := source.LoadArchive("testdata/" + name)
	require.NoError(t, err)
	return build(t, files)
}

func build(t *testing.T, files []source.File) *analysis.ProgramModel {
	t.Helper()
	m, err := analysis.Build(context.Background(), files, analysis.Options{Workers: 2})
	require.NoError(t, err)
	return m
}

func buildSrc(t *testing.T, src string) *analysis.ProgramModel {
	t.Helper()
	return build(t, []source.File{{Path: "programs/demo/src/lib.rs", Content: []byte(src)}})
}

func scan(t *testing.T, m *analysis.ProgramModel) []model.Finding {
	t.Helper()
	fs, diags := Run(context.Background(), m, Selection{}, model.SeverityLow, Config{})
	require.Empty(t, diags)
	return fs
}

func byDetector(fs []model.Finding, id string) []model.Finding {
	var out []model.Finding
	for _, f := range fs {
		if f.DetectorID == id {
			out = append(out, f)
		}
	}
	return out
}

func inInstruction(fs []model.Finding, name string) []model.Finding {
	var out []model.Finding
	for _, f := range fs {
		if f.Location.Instruction == name {
			out = append(out, f)
		}
	}
	return out
}

func TestCatalog(t *testing.T) {
	cat := Catalog()

	require.Len(t, cat, 22)
	seen := map[string]bool{}
	for i, r := range cat {
		assert.Regexp(t, `^V0\d\d$`, r.ID)
		assert.False(t, seen[r.ID], "duplicate %s", r.ID)
		seen[r.ID] = true
		if i > 0 {
			assert.Less(t, cat[i-1].ID, r.ID)
		}
		assert.True(t, r.Severity.Valid(), r.ID)
		assert.NotEmpty(t, r.Title, r.ID)
		assert.NotEmpty(t, r.Description, r.ID)
		assert.NotEmpty(t, r.Remediation, r.ID)
		assert.NotEmpty(t, r.Code, r.ID)
	}
	for _, id := range []string{"V001", "V004", "V021", "V026"} {
		assert.True(t, seen[id], id)
	}
	assert.False(t, seen["V020"])
}

func TestLookup(t *testing.T) {
	d, ok := Lookup("V001")
	require.True(t, ok)
	assert.Equal(t, model.SeverityCritical, d.Meta.Severity)

	_, ok = Lookup("V999")
	assert.False(t, ok)
}

func TestNewSelection(t *testing.T) {
	t.Run("empty selects all", func(t *testing.T) {
		sel, err := NewSelection(nil, nil)
		require.NoError(t, err)
		assert.Len(t, sel.Detectors(), 22)
	})

	t.Run("only and exclude", func(t *testing.T) {
		sel, err := NewSelection([]string{"v001", " V003 ", "V004"}, []string{"V004"})
		require.NoError(t, err)

		var ids []string
		for _, d := range sel.Detectors() {
			ids = append(ids, d.Meta.ID)
		}
		assert.Equal(t, []string{"V001", "V003"}, ids)
	})

	t.Run("blank ids select all", func(t *testing.T) {
		sel, err := NewSelection([]string{"", " "}, []string{""})
		require.NoError(t, err)
		assert.Len(t, sel.Detectors(), 22)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := NewSelection([]string{"V001", "V404"}, nil)
		assert.ErrorIs(t, err, ErrUnknownDetector)
		assert.Contains(t, err.Error(), "V404")
	})
}

func TestMissingSignerOnWithdraw(t *testing.T) {
	// given
	m := load(t, "vault.txtar")

	// when
	fs := byDetector(scan(t, m), "V001")

	// then
	require.Len(t, fs, 1)
	f := fs[0]
	assert.Equal(t, model.SeverityCritical, f.Severity)
	assert.Equal(t, "vault", f.Location.Program)
	assert.Equal(t, "withdraw", f.Location.Instruction)
	assert.Equal(t, "Withdraw", f.Location.Context)
	assert.Equal(t, "owner", f.Location.Field)
	assert.Equal(t, "programs/vault/src/lib.rs", f.Location.File)
	assert.Equal(t, 0.9, f.Confidence)
}

func TestPdaPrefixCollision(t *testing.T) {
	// given
	m := load(t, "pools.txtar")

	// when
	fs := byDetector(scan(t, m), "V004")

	// then
	require.Len(t, fs, 1)
	assert.Equal(t, model.SeverityHigh, fs[0].Severity)
	assert.Equal(t, model.SitePDA, fs[0].Location.SiteKind)
	assert.Equal(t, "OpenExtra", fs[0].Location.Context)
	assert.Equal(t, "open_extra", fs[0].Location.Instruction)
}

func TestOverflowOnlyOnUncheckedAdd(t *testing.T) {
	// given
	m := load(t, "vault.txtar")

	// when
	fs := inInstruction(byDetector(scan(t, m), "V003"), "deposit")

	// then
	require.Len(t, fs, 1)
	assert.Equal(t, "amount+fee", fs[0].Snippet)
	assert.Equal(t, model.SiteArithmetic, fs[0].Location.SiteKind)
}

func TestOverflowGuards(t *testing.T) {
	const tmpl = `use anchor_lang::prelude::*;

#[program]
pub mod demo {
    use super::*;

    pub fn deposit(ctx: Context<Deposit>, amount: u64, fee: u64) -> Result<()> {
        %s
        let total = amount + fee;
        ctx.accounts.state.total = total;
        Ok(())
    }
}

#[derive(Accounts)]
pub struct Deposit<'info> {
    #[account(mut)]
    pub state: Account<'info, State>,
    pub user: Signer<'info>,
}

#[account]
pub struct State {
    pub total: u64,
}
`
	tests := []struct {
		name  string
		guard string
		want  int
	}{
		{"no guard", "", 1},
		{"lower bound only", "require!(amount > 0, DemoError::Zero);", 1},
		{"one operand capped", "require!(amount <= MAX_DEPOSIT, DemoError::TooLarge);", 1},
		{"both operands capped", "require!(amount <= MAX_DEPOSIT && fee < 100, DemoError::TooLarge);", 0},
		{"aborting branches", "if amount > MAX_DEPOSIT || fee >= MAX_FEE { return Err(DemoError::TooLarge.into()); }", 0},
		{"require_gte", "require_gte!(MAX_DEPOSIT, amount); require_gte!(MAX_FEE, fee);", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// given
			m := buildSrc(t, fmt.Sprintf(tmpl, tt.guard))

			// when
			fs := byDetector(scan(t, m), "V003")

			// then
			assert.Len(t, fs, tt.want)
		})
	}
}

func TestRelayFindings(t *testing.T) {
	// given
	m := load(t, "relay.txtar")

	// when
	fs := scan(t, m)

	// then
	signer := byDetector(fs, "V001")
	require.Len(t, signer, 1)
	assert.Equal(t, "authority", signer[0].Location.Field)

	overflow := byDetector(fs, "V003")
	require.Len(t, overflow, 1)
	assert.Equal(t, "amount+fee", overflow[0].Snippet)

	cpi := byDetector(fs, "V006")
	require.NotEmpty(t, cpi)
	assert.Equal(t, "forward", cpi[0].Location.Instruction)

	assert.NotEmpty(t, byDetector(fs, "V009"))

	// critical findings sort first
	assert.Equal(t, model.SeverityCritical, fs[0].Severity)
}

func TestFindingsAreWellFormed(t *testing.T) {
	hexRe := regexp.MustCompile(`^[0-9a-f]{64}$`)
	for _, name := range []string{"vault.txtar", "pools.txtar", "relay.txtar"} {
		t.Run(name, func(t *testing.T) {
			m := load(t, name)
			for _, f := range scan(t, m) {
				assert.True(t, m.Resolve(f.Location), "%s %+v", f.DetectorID, f.Location)
				assert.Regexp(t, hexRe, f.Fingerprint)
				_, err := uuid.Parse(f.ID)
				assert.NoError(t, err)
				assert.GreaterOrEqual(t, f.Confidence, 0.0)
				assert.LessOrEqual(t, f.Confidence, 1.0)
				assert.NotEmpty(t, f.Message)
				assert.NotEmpty(t, f.Location.Site)
			}
		})
	}
}

func TestSeverityFloorIsMonotonic(t *testing.T) {
	m := load(t, "relay.txtar")
	ctx := context.Background()

	prev := -1
	for _, floor := range []model.Severity{model.SeverityCritical, model.SeverityHigh, model.SeverityMedium, model.SeverityLow} {
		fs, _ := Run(ctx, m, Selection{}, floor, Config{})
		for _, f := range fs {
			assert.True(t, model.SeverityGTE(f.Severity, floor))
		}
		assert.GreaterOrEqual(t, len(fs), prev)
		prev = len(fs)
	}
}

func TestDetectorsAreIndependent(t *testing.T) {
	// given
	m := load(t, "relay.txtar")
	all := scan(t, m)

	// when
	sel, err := NewSelection([]string{"V003"}, nil)
	require.NoError(t, err)
	only, _ := Run(context.Background(), m, sel, model.SeverityLow, Config{})

	// then
	assert.Equal(t, byDetector(all, "V003"), only)
}

func TestFingerprintsSurviveReformatting(t *testing.T) {
	// given
	files, err := source.LoadArchive("testdata/relay.txtar")
	require.NoError(t, err)
	before := scan(t, build(t, files))

	src := strings.ReplaceAll(string(files[0].Content), "    ", "\t")
	src = strings.Replace(src, "amount + fee", "amount\n\t\t\t+ fee", 1)
	files[0].Content = []byte("\n\n" + src)

	// when
	after := scan(t, build(t, files))

	// then
	fingerprints := func(fs []model.Finding) []string {
		var out []string
		for _, f := range fs {
			out = append(out, f.Fingerprint)
		}
		return out
	}
	assert.ElementsMatch(t, fingerprints(before), fingerprints(after))
}

func TestOnlySelectionLimitsDetectors(t *testing.T) {
	// given
	m := load(t, "relay.txtar")
	require.NotEmpty(t, byDetector(scan(t, m), "V006"))
	sel, err := NewSelection([]string{"V001", "V003"}, nil)
	require.NoError(t, err)

	// when
	fs, diags := Run(context.Background(), m, sel, model.SeverityLow, Config{})

	// then
	require.Empty(t, diags)
	require.NotEmpty(t, fs)
	got := map[string]bool{}
	for _, f := range fs {
		got[f.DetectorID] = true
	}
	assert.Equal(t, map[string]bool{"V001": true, "V003": true}, got)
}

func TestRunIsDeterministic(t *testing.T) {
	m := load(t, "relay.txtar")

	first := scan(t, m)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, scan(t, m))
	}

	// a rebuilt model yields the same identities
	again := scan(t, load(t, "relay.txtar"))
	require.Len(t, again, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, again[i].ID)
		assert.Equal(t, first[i].Fingerprint, again[i].Fingerprint)
	}
}

func TestRunIsolatesFaults(t *testing.T) {
	// given
	m := load(t, "vault.txtar")
	boom := Detector{
		Meta:   model.RuleMeta{ID: "V900", Severity: model.SeverityLow},
		Detect: func(*analysis.ProgramModel, Config) []model.Finding { panic("index out of range") },
	}

	// when
	fs, diags := run(context.Background(), m, []Detector{boom, missingSigner}, model.SeverityLow, Config{})

	// then
	require.Len(t, diags, 1)
	assert.Equal(t, model.DiagnosticDetectorFault, diags[0].Kind)
	assert.Equal(t, "V900", diags[0].Source)
	assert.Contains(t, diags[0].Message, "index out of range")
	require.Len(t, fs, 1)
	assert.Equal(t, "V001", fs[0].DetectorID)
}

func TestUnknownConstraintCapsConfidence(t *testing.T) {
	// given
	m := buildSrc(t, `use anchor_lang::prelude::*;

#[program]
pub mod demo {
    use super::*;

    pub fn drain(ctx: Context<Drain>) -> Result<()> {
        ctx.accounts.state.total = 0;
        Ok(())
    }
}

#[derive(Accounts)]
pub struct Drain<'info> {
    #[account(mut)]
    pub state: Account<'info, State>,
    /// CHECK: authority
    #[account(frobnicate = 1)]
    pub authority: AccountInfo<'info>,
}
`)

	// when
	fs := byDetector(scan(t, m), "V001")

	// then
	require.Len(t, fs, 1)
	assert.LessOrEqual(t, fs[0].Confidence, 0.5)
	assert.Contains(t, fs[0].Rationale, "could not be verified")
}

func TestAuthorityNamesFromConfig(t *testing.T) {
	src := `use anchor_lang::prelude::*;

#[program]
pub mod demo {
    use super::*;

    pub fn sweep(ctx: Context<Sweep>) -> Result<()> {
        ctx.accounts.state.total = 0;
        Ok(())
    }
}

#[derive(Accounts)]
pub struct Sweep<'info> {
    #[account(mut)]
    pub state: Account<'info, State>,
    /// CHECK: keeper
    pub keeper: AccountInfo<'info>,
}
`
	m := buildSrc(t, src)

	without, _ := Run(context.Background(), m, Selection{}, model.SeverityLow, Config{})
	with, _ := Run(context.Background(), m, Selection{}, model.SeverityLow, Config{AuthorityNames: []string{"Keeper"}})

	assert.Empty(t, byDetector(without, "V001"))
	require.Len(t, byDetector(with, "V001"), 1)
	assert.Equal(t, "keeper", byDetector(with, "V001")[0].Location.Field)
}

const prelude = "use anchor_lang::prelude::*;\n"

func TestDetectors(t *testing.T) {
	tests := []struct {
		name     string
		detector string
		src      string
		check    func(t *testing.T, f model.Finding)
	}{
		{
			name:     "missing owner check on borrowed data",
			detector: "V002",
			src: prelude + `
#[program]
pub mod demo {
    use super::*;
    pub fn read(ctx: Context<Read>) -> Result<()> {
        let data = ctx.accounts.config.try_borrow_data()?;
        msg!("{}", data[0]);
        Ok(())
    }
}

#[derive(Accounts)]
pub struct Read<'info> {
    /// CHECK: config
    pub config: AccountInfo<'info>,
    pub user: Signer<'info>,
}
`,
			check: func(t *testing.T, f model.Finding) {
				assert.Equal(t, "config", f.Location.Field)
				assert.Equal(t, 0.7, f.Confidence)
			},
		},
		{
			name:     "init_if_needed without initialized guard",
			detector: "V005",
			src: prelude + `
#[program]
pub mod demo {
    use super::*;
    pub fn setup(ctx: Context<Setup>) -> Result<()> {
        ctx.accounts.config.admin = ctx.accounts.payer.key();
        Ok(())
    }
}

#[derive(Accounts)]
pub struct Setup<'info> {
    #[account(init_if_needed, payer = payer, space = 8 + 32)]
    pub config: Account<'info, Config>,
    #[account(mut)]
    pub payer: Signer<'info>,
    pub system_program: Program<'info, System>,
}
`,
			check: func(t *testing.T, f model.Finding) {
				assert.Equal(t, "config", f.Location.Field)
			},
		},
		{
			name:     "token interface transfer without extension checks",
			detector: "V007",
			src: prelude + `use anchor_spl::token_interface::{self, Mint, TokenAccount, TokenInterface, TransferChecked};

#[program]
pub mod demo {
    use super::*;
    pub fn pay(ctx: Context<Pay>, amount: u64) -> Result<()> {
        let accounts = TransferChecked {
            from: ctx.accounts.from.to_account_info(),
            mint: ctx.accounts.mint.to_account_info(),
            to: ctx.accounts.to.to_account_info(),
            authority: ctx.accounts.authority.to_account_info(),
        };
        let cpi_ctx = CpiContext::new(ctx.accounts.token_program.to_account_info(), accounts);
        token_interface::transfer_checked(cpi_ctx, amount, ctx.accounts.mint.decimals)?;
        Ok(())
    }
}

#[derive(Accounts)]
pub struct Pay<'info> {
    #[account(mut)]
    pub from: InterfaceAccount<'info, TokenAccount>,
    #[account(mut)]
    pub to: InterfaceAccount<'info, TokenAccount>,
    pub mint: InterfaceAccount<'info, Mint>,
    pub authority: Signer<'info>,
    pub token_program: Interface<'info, TokenInterface>,
}
`,
			check: func(t *testing.T, f model.Finding) {
				assert.Equal(t, model.SiteCPI, f.Location.SiteKind)
				assert.Equal(t, 0.7, f.Confidence)
			},
		},
		{
			name:     "user supplied bump",
			detector: "V008",
			src: prelude + `
#[program]
pub mod demo {
    use super::*;
    pub fn touch(ctx: Context<Touch>, bump: u8) -> Result<()> {
        Ok(())
    }
}

#[derive(Accounts)]
#[instruction(bump: u8)]
pub struct Touch<'info> {
    #[account(seeds = [b"cfg"], bump = bump)]
    pub cfg: Account<'info, Config>,
}
`,
			check: func(t *testing.T, f model.Finding) {
				assert.Equal(t, 0.9, f.Confidence)
				assert.Equal(t, "Touch", f.Location.Context)
			},
		},
		{
			name:     "unchecked transfer amount",
			detector: "V010",
			src: prelude + `use anchor_spl::token::{self, Token, TokenAccount, Transfer};

#[program]
pub mod demo {
    use super::*;
    pub fn pay(ctx: Context<PayOut>, amount: u64) -> Result<()> {
        token::transfer(
            CpiContext::new(
                ctx.accounts.token_program.to_account_info(),
                Transfer {
                    from: ctx.accounts.from.to_account_info(),
                    to: ctx.accounts.to.to_account_info(),
                    authority: ctx.accounts.authority.to_account_info(),
                },
            ),
            amount,
        )?;
        Ok(())
    }
}

#[derive(Accounts)]
pub struct PayOut<'info> {
    #[account(mut)]
    pub from: Account<'info, TokenAccount>,
    #[account(mut)]
    pub to: Account<'info, TokenAccount>,
    pub authority: Signer<'info>,
    pub token_program: Program<'info, Token>,
}
`,
			check: func(t *testing.T, f model.Finding) {
				assert.Equal(t, model.SiteCPI, f.Location.SiteKind)
			},
		},
		{
			name:     "single step authority change",
			detector: "V011",
			src: prelude + `
#[program]
pub mod demo {
    use super::*;
    pub fn set_admin(ctx: Context<SetAdmin>, new_admin: Pubkey) -> Result<()> {
        ctx.accounts.config.admin = new_admin;
        Ok(())
    }
}

#[derive(Accounts)]
pub struct SetAdmin<'info> {
    #[account(mut)]
    pub config: Account<'info, Config>,
    pub caller: Signer<'info>,
}
`,
			check: func(t *testing.T, f model.Finding) {
				assert.Equal(t, model.SiteWrite, f.Location.SiteKind)
			},
		},
		{
			name:     "lamports debited without rent check",
			detector: "V012",
			src:      "",
			check: func(t *testing.T, f model.Finding) {
				assert.Equal(t, "withdraw", f.Location.Instruction)
			},
		},
		{
			name:     "close verb without close constraint",
			detector: "V013",
			src: prelude + `
#[program]
pub mod demo {
    use super::*;
    pub fn close_position(ctx: Context<ClosePosition>) -> Result<()> {
        ctx.accounts.position.amount = 0;
        Ok(())
    }
}

#[derive(Accounts)]
pub struct ClosePosition<'info> {
    #[account(mut, has_one = owner)]
    pub position: Account<'info, Position>,
    pub owner: Signer<'info>,
}
`,
			check: func(t *testing.T, f model.Finding) {
				assert.Equal(t, "close_position", f.Location.Instruction)
			},
		},
		{
			name:     "unpinned oracle",
			detector: "V014",
			src: prelude + `
#[program]
pub mod demo {
    use super::*;
    pub fn quote(ctx: Context<Quote>) -> Result<()> {
        let data = ctx.accounts.price_feed.try_borrow_data()?;
        ctx.accounts.market.last = data[0] as u64;
        Ok(())
    }
}

#[derive(Accounts)]
pub struct Quote<'info> {
    #[account(mut)]
    pub market: Account<'info, Market>,
    /// CHECK: price feed
    pub price_feed: AccountInfo<'info>,
}
`,
			check: func(t *testing.T, f model.Finding) {
				assert.Equal(t, "price_feed", f.Location.Field)
			},
		},
		{
			name:     "signature without replay protection",
			detector: "V015",
			src: prelude + `
#[program]
pub mod demo {
    use super::*;
    pub fn redeem(ctx: Context<Redeem>, sig: [u8; 64]) -> Result<()> {
        let ix = load_instruction_at_checked(0, &ctx.accounts.instructions)?;
        verify_ed25519_ix(&ix, &sig)?;
        Ok(())
    }
}

#[derive(Accounts)]
pub struct Redeem<'info> {
    pub user: Signer<'info>,
    /// CHECK: instructions sysvar
    #[account(address = sysvar_instructions::ID)]
    pub instructions: AccountInfo<'info>,
}
`,
			check: func(t *testing.T, f model.Finding) {
				assert.Equal(t, model.SiteInstruction, f.Location.SiteKind)
				assert.Equal(t, "redeem", f.Location.Site)
			},
		},
		{
			name:     "uncapped mint",
			detector: "V016",
			src: prelude + `use anchor_spl::token::{self, Mint, MintTo, Token, TokenAccount};

#[program]
pub mod demo {
    use super::*;
    pub fn mint(ctx: Context<MintTokens>, amount: u64) -> Result<()> {
        token::mint_to(
            CpiContext::new(
                ctx.accounts.token_program.to_account_info(),
                MintTo {
                    mint: ctx.accounts.mint.to_account_info(),
                    to: ctx.accounts.to.to_account_info(),
                    authority: ctx.accounts.authority.to_account_info(),
                },
            ),
            amount,
        )?;
        Ok(())
    }
}

#[derive(Accounts)]
pub struct MintTokens<'info> {
    #[account(mut)]
    pub mint: Account<'info, Mint>,
    #[account(mut)]
    pub to: Account<'info, TokenAccount>,
    pub authority: Signer<'info>,
    pub token_program: Program<'info, Token>,
}
`,
			check: func(t *testing.T, f model.Finding) {
				assert.Equal(t, 0.85, f.Confidence)
			},
		},
		{
			name:     "cpi into upgradeable program without version check",
			detector: "V017",
			src: prelude + `
#[program]
pub mod demo {
    use super::*;
    pub fn route(ctx: Context<Route>) -> Result<()> {
        let cpi_ctx = CpiContext::new(
            ctx.accounts.dex_program.to_account_info(),
            Swap { user: ctx.accounts.user.to_account_info() },
        );
        dex::cpi::swap(cpi_ctx)?;
        Ok(())
    }
}

#[derive(Accounts)]
pub struct Route<'info> {
    pub user: Signer<'info>,
    pub dex_program: Program<'info, Dex>,
}
`,
			check: func(t *testing.T, f model.Finding) {
				assert.Equal(t, model.SiteCPI, f.Location.SiteKind)
				assert.Contains(t, f.Message, "Dex")
			},
		},
		{
			name:     "ignored reload result",
			detector: "V018",
			src: prelude + `
#[program]
pub mod demo {
    use super::*;
    pub fn sync(ctx: Context<Sync>) -> Result<()> {
        let _ = ctx.accounts.state.reload();
        Ok(())
    }
}

#[derive(Accounts)]
pub struct Sync<'info> {
    #[account(mut)]
    pub state: Account<'info, State>,
    pub user: Signer<'info>,
}
`,
			check: func(t *testing.T, f model.Finding) {
				assert.Equal(t, 0.8, f.Confidence)
				assert.Equal(t, model.SiteCall, f.Location.SiteKind)
			},
		},
		{
			name:     "loop over caller input",
			detector: "V019",
			src: prelude + `
#[program]
pub mod demo {
    use super::*;
    pub fn batch(ctx: Context<Batch>, items: Vec<u64>) -> Result<()> {
        for item in items.iter() {
            ctx.accounts.state.total = *item;
        }
        Ok(())
    }
}

#[derive(Accounts)]
pub struct Batch<'info> {
    #[account(mut)]
    pub state: Account<'info, State>,
    pub user: Signer<'info>,
}
`,
			check: func(t *testing.T, f model.Finding) {
				assert.Equal(t, model.SiteLoop, f.Location.SiteKind)
				assert.Equal(t, 0.75, f.Confidence)
			},
		},
		{
			name:     "signed cpi with unverified account",
			detector: "V021",
			src: prelude + `
#[program]
pub mod demo {
    use super::*;
    pub fn pay_out(ctx: Context<PayOutSigned>) -> Result<()> {
        let seeds: &[&[u8]] = &[b"vault", &[ctx.accounts.state.bump]];
        invoke_signed(
            &system_instruction::transfer(ctx.accounts.vault.key, ctx.accounts.user.key, 1),
            &[ctx.accounts.vault.clone(), ctx.accounts.user.to_account_info()],
            &[seeds],
        )?;
        Ok(())
    }
}

#[derive(Accounts)]
pub struct PayOutSigned<'info> {
    pub state: Account<'info, State>,
    /// CHECK: vault
    #[account(mut)]
    pub vault: AccountInfo<'info>,
    #[account(mut)]
    pub user: Signer<'info>,
    pub system_program: Program<'info, System>,
}
`,
			check: func(t *testing.T, f model.Finding) {
				assert.Equal(t, "vault", f.Location.Field)
				assert.Equal(t, 0.8, f.Confidence)
			},
		},
		{
			name:     "lamports divided",
			detector: "V022",
			src: prelude + `
#[program]
pub mod demo {
    use super::*;
    pub fn split(ctx: Context<Split>) -> Result<()> {
        let share = ctx.accounts.pot.lamports() / 3;
        **ctx.accounts.pot.try_borrow_mut_lamports()? -= share;
        **ctx.accounts.a.try_borrow_mut_lamports()? += share;
        Ok(())
    }
}

#[derive(Accounts)]
pub struct Split<'info> {
    #[account(mut)]
    pub pot: Account<'info, Pot>,
    #[account(mut)]
    pub a: Signer<'info>,
}
`,
			check: func(t *testing.T, f model.Finding) {
				assert.Equal(t, model.SiteArithmetic, f.Location.SiteKind)
			},
		},
		{
			name:     "multiply after divide",
			detector: "V026",
			src: prelude + `
#[program]
pub mod demo {
    use super::*;
    pub fn reward(ctx: Context<Reward>, amount: u64, rate: u64) -> Result<()> {
        let r = amount / 100 * rate;
        ctx.accounts.state.total = r;
        Ok(())
    }
}

#[derive(Accounts)]
pub struct Reward<'info> {
    #[account(mut)]
    pub state: Account<'info, State>,
    pub user: Signer<'info>,
}
`,
			check: func(t *testing.T, f model.Finding) {
				assert.Equal(t, 0.8, f.Confidence)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// given
			var m *analysis.ProgramModel
			if tt.src == "" {
				m = load(t, "vault.txtar")
			} else {
				m = buildSrc(t, tt.src)
			}

			// when
			fs := byDetector(scan(t, m), tt.detector)

			// then
			require.NotEmpty(t, fs, "expected %s", tt.detector)
			tt.check(t, fs[0])
			for _, f := range fs {
				assert.True(t, m.Resolve(f.Location))
				assert.True(t, strings.HasPrefix(f.Location.File, "programs/"))
			}
		})
	}
}

func TestCleanProgramHasNoHighFindings(t *testing.T) {
	m := buildSrc(t, prelude+`
#[program]
pub mod demo {
    use super::*;
    pub fn bump_counter(ctx: Context<BumpCounter>) -> Result<()> {
        let c = &mut ctx.accounts.counter;
        c.count = c.count.checked_add(1).ok_or(ErrorCode::Overflow)?;
        Ok(())
    }
}

#[derive(Accounts)]
pub struct BumpCounter<'info> {
    #[account(mut, has_one = authority)]
    pub counter: Account<'info, Counter>,
    pub authority: Signer<'info>,
}
`)

	fs, _ := Run(context.Background(), m, Selection{}, model.SeverityHigh, Config{})

	assert.Empty(t, fs)
}
