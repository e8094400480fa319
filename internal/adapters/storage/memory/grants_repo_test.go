package memory

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"medical-history-wallet/internal/domain/grants"
)

func TestGrantsRepo_ListOrderAndPagination(t *testing.T) {
	repo := NewGrantsRepo()
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		err := repo.Create(ctx, grants.Grant{
			ID:        "g-" + strconv.Itoa(i),
			Kind:      grants.KindShare,
			SubjectID: "patient-1",
			Status:    grants.StatusActive,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			ExpiresAt: base.Add(24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("Create #%d error: %v", i, err)
		}
	}

	items, total, err := repo.List(ctx, grants.ListFilter{
		PrincipalID: "patient-1",
		Role:        grants.RoleSubject,
		Kind:        grants.KindShare,
		Page:        1,
		PageSize:    5,
	})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if total != 7 || len(items) != 5 {
		t.Fatalf("expected total=7 items=5, got total=%d items=%d", total, len(items))
	}
	// más recientes primero
	if items[0].ID != "g-6" || items[4].ID != "g-2" {
		t.Fatalf("unexpected order: first=%s last=%s", items[0].ID, items[4].ID)
	}

	items, _, err = repo.List(ctx, grants.ListFilter{
		PrincipalID: "patient-1",
		Role:        grants.RoleSubject,
		Kind:        grants.KindShare,
		Page:        3,
		PageSize:    5,
	})
	if err != nil {
		t.Fatalf("List page 3 error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty page past the end, got %d items", len(items))
	}
}

func TestGrantsRepo_TokenCollision(t *testing.T) {
	repo := NewGrantsRepo()
	ctx := context.Background()

	g := grants.Grant{ID: "g-1", Kind: grants.KindQR, SubjectID: "p-1", Status: grants.StatusActive, SecretToken: "tok"}
	if err := repo.Create(ctx, g); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	g2 := g
	g2.ID = "g-2"
	if err := repo.Create(ctx, g2); err == nil {
		t.Fatalf("expected token collision error")
	}

	got, err := repo.GetByToken(ctx, "tok")
	if err != nil || got.ID != "g-1" {
		t.Fatalf("GetByToken = %v, %v", got.ID, err)
	}
	if _, err := repo.GetByToken(ctx, "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGrantsRepo_ConsumeUse_Atomic(t *testing.T) {
	repo := NewGrantsRepo()
	ctx := context.Background()

	maxUses := 1
	err := repo.Create(ctx, grants.Grant{
		ID:          "g-1",
		Kind:        grants.KindQR,
		SubjectID:   "p-1",
		Status:      grants.StatusActive,
		SecretToken: "tok",
		MaxUses:     &maxUses,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = repo.ConsumeUse(ctx, "g-1")
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
		} else if !errors.Is(err, grants.ErrExhausted) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly 1 winner with maxUses=1, got %d", ok)
	}

	// el último uso deja el estado terminal escrito
	g, err := repo.GetByID(ctx, "g-1")
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if g.Status != grants.StatusExhausted || g.UsageCount != 1 {
		t.Fatalf("expected exhausted/1, got %s/%d", g.Status, g.UsageCount)
	}
}

func TestGrantsRepo_ConsumeUse_Unlimited(t *testing.T) {
	repo := NewGrantsRepo()
	ctx := context.Background()

	err := repo.Create(ctx, grants.Grant{
		ID: "g-1", Kind: grants.KindQR, SubjectID: "p-1", Status: grants.StatusActive, SecretToken: "tok",
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	for i := 1; i <= 5; i++ {
		g, err := repo.ConsumeUse(ctx, "g-1")
		if err != nil {
			t.Fatalf("ConsumeUse #%d error: %v", i, err)
		}
		if g.UsageCount != i || g.Status != grants.StatusActive {
			t.Fatalf("expected count=%d active, got %d/%s", i, g.UsageCount, g.Status)
		}
	}

	if _, err := repo.ConsumeUse(ctx, "ghost"); !errors.Is(err, grants.ErrNotFound) {
		t.Fatalf("expected grants.ErrNotFound, got %v", err)
	}
}
