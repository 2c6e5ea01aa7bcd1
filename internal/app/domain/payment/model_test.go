package payment

import "testing"

func TestSplit(t *testing.T) {
	owner, creator := Split(7, 30)
	if creator != 2 {
		t.Fatalf("creator share: got %d, want 2", creator)
	}
	if owner != 5 {
		t.Fatalf("owner share: got %d, want 5", owner)
	}

	owner, creator = Split(100, 30)
	if creator != 30 || owner != 70 {
		t.Fatalf("unexpected split: owner=%d creator=%d", owner, creator)
	}
}

func TestSplitConservation(t *testing.T) {
	for price := Amount(0); price <= 1000; price++ {
		for _, pct := range []int{0, 1, 3, 30, 50, 99, 100} {
			owner, creator := Split(price, pct)
			if owner+creator != price {
				t.Fatalf("price %d pct %d: owner %d + creator %d != price", price, pct, owner, creator)
			}
			if creator < 0 || owner < 0 {
				t.Fatalf("price %d pct %d: negative share", price, pct)
			}
		}
	}
}

func TestSplitEdgeCases(t *testing.T) {
	if owner, creator := Split(0, 30); owner != 0 || creator != 0 {
		t.Fatalf("zero price should split to zero")
	}
	if owner, creator := Split(10, 0); owner != 10 || creator != 0 {
		t.Fatalf("zero royalty should give everything to owner")
	}
	if owner, creator := Split(10, 150); owner != 0 || creator != 10 {
		t.Fatalf("royalty above 100 should clamp: owner=%d creator=%d", owner, creator)
	}
}
