package app

import (
	"context"
	"testing"

	"github.com/boopathydreams/capnpay-settlement/internal/domain"
)

func TestResolveCounterpartyExistingAccount(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo, &fakeGateway{})
	existing := repo.addAccount("priya@okbank", "Priya", domain.AccountRegistered)

	account, err := svc.ResolveCounterparty(context.Background(), "priya@okbank", "Someone Else")
	if err != nil {
		t.Fatalf("ResolveCounterparty returned error: %v", err)
	}
	if account.ID != existing.ID {
		t.Errorf("resolved account %s, want existing %s", account.ID, existing.ID)
	}
	if account.DisplayName != "Priya" {
		t.Errorf("display name = %q, existing names must not be overwritten", account.DisplayName)
	}
}

func TestResolveCounterpartyBackfillsEmptyName(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo, &fakeGateway{})
	existing := repo.addAccount("priya@okbank", "", domain.AccountAddressOnly)

	account, err := svc.ResolveCounterparty(context.Background(), "priya@okbank", "Priya S")
	if err != nil {
		t.Fatal(err)
	}
	if account.ID != existing.ID {
		t.Fatalf("resolved a different account")
	}
	if account.DisplayName != "Priya S" {
		t.Errorf("display name = %q, want backfilled %q", account.DisplayName, "Priya S")
	}
}

func TestResolveCounterpartyCreatesAddressOnly(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo, &fakeGateway{})

	account, err := svc.ResolveCounterparty(context.Background(), "  Ravi@OkBank  ", "")
	if err != nil {
		t.Fatal(err)
	}
	if account.Kind != domain.AccountAddressOnly {
		t.Errorf("kind = %s, want ADDRESS_ONLY", account.Kind)
	}
	if account.Address != "ravi@okbank" {
		t.Errorf("address = %q, want normalized lowercase", account.Address)
	}
	if account.DisplayName != "ravi" {
		t.Errorf("display name = %q, want local part of address", account.DisplayName)
	}

	// Resolving the same address again must reuse the account.
	again, err := svc.ResolveCounterparty(context.Background(), "ravi@okbank", "")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != account.ID {
		t.Errorf("second resolution created a new account %s, want %s", again.ID, account.ID)
	}
}

func TestResolveCounterpartyEmptyAddress(t *testing.T) {
	repo := newMemRepo()
	svc, _ := newTestService(repo, &fakeGateway{})

	if _, err := svc.ResolveCounterparty(context.Background(), "   ", "Name"); err != ErrInvalidAddress {
		t.Errorf("err = %v, want ErrInvalidAddress", err)
	}
}
