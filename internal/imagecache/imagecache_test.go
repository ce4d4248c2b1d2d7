package imagecache

import (
	"image"
	"math/rand/v2"
	"testing"

	"github.com/gogpu/quill/internal/imaging"
)

func img(w int) imaging.Image {
	return imaging.New(imaging.Blank(image.Pt(w, 1)))
}

func TestInsertAndImage(t *testing.T) {
	c := New(4)
	c.Insert(1, 10, img(1), false)
	got, ok := c.Image(1, 10)
	if !ok || got.Size().X != 1 {
		t.Fatalf("Image(1, 10) = %v, %v", got.Size(), ok)
	}
	if _, ok := c.Image(2, 10); ok {
		t.Error("images are not separated by owner")
	}
	if c.IsProtected(1, 10) {
		t.Error("unprotected insert became protected")
	}
}

func TestProtectedInsertDemotesPrevious(t *testing.T) {
	c := New(4)
	c.Insert(1, 10, img(1), true)
	c.Insert(1, 11, img(2), true)

	if c.IsProtected(1, 10) {
		t.Error("previous entry still protected")
	}
	if !c.IsProtected(1, 11) {
		t.Error("new entry not protected")
	}
	if _, ok := c.Image(1, 10); !ok {
		t.Error("demoted entry was dropped")
	}

	// Re-inserting the protected entry keeps it protected.
	c.Insert(1, 11, img(3), true)
	if !c.IsProtected(1, 11) {
		t.Error("re-inserted entry lost its protection")
	}
	if got, _ := c.Image(1, 11); got.Size().X != 3 {
		t.Error("protected entry not replaced")
	}
}

func TestProtect(t *testing.T) {
	c := New(4)
	c.Insert(1, 10, img(1), true)
	c.Insert(1, 11, img(2), false)

	if !c.Protect(1, 11) {
		t.Fatal("Protect(1, 11) = false")
	}
	if !c.IsProtected(1, 11) || c.IsProtected(1, 10) {
		t.Error("protection not moved")
	}
	if c.Protect(1, 99) {
		t.Error("protecting a missing entry succeeded")
	}
	if !c.IsProtected(1, 11) {
		t.Error("failed Protect changed the protected entry")
	}
}

func TestProtectedSurvivesEviction(t *testing.T) {
	c := New(2)
	c.Insert(1, 1, img(1), true)
	for id := uint64(2); id < 10; id++ {
		c.Insert(1, id, img(1), false)
	}
	if _, ok := c.Image(1, 1); !ok {
		t.Error("protected entry evicted")
	}
	if _, ok := c.Image(1, 2); ok {
		t.Error("oldest unprotected entry not evicted")
	}
	if s := c.Stats(); s.Protected != 1 || s.Bounded.Len != 2 {
		t.Errorf("Stats = %+v", s)
	}
}

func TestUnprotect(t *testing.T) {
	c := New(4)
	c.Insert(1, 10, img(1), true)
	c.Unprotect(1)
	if c.IsProtected(1, 10) {
		t.Error("entry still protected")
	}
	if _, ok := c.Image(1, 10); !ok {
		t.Error("unprotected entry dropped")
	}
	c.Unprotect(2)
}

func TestPurgeAndRemove(t *testing.T) {
	c := New(4)
	c.Insert(1, 10, img(1), true)
	c.Insert(1, 11, img(1), false)
	c.Insert(2, 20, img(1), true)

	c.Purge(1)
	if _, ok := c.Image(1, 10); ok {
		t.Error("purged entry still cached")
	}
	if c.IsProtected(1, 10) {
		t.Error("owner still has a protected entry")
	}

	c.Remove(2, 20)
	if _, ok := c.Image(2, 20); ok {
		t.Error("removed protected entry still cached")
	}

	c.Insert(3, 30, img(1), false)
	c.RemoveOwner(1)
	if _, ok := c.Image(1, 11); ok {
		t.Error("RemoveOwner kept an entry")
	}
	if _, ok := c.Image(3, 30); !ok {
		t.Error("RemoveOwner dropped another owner's entry")
	}
}

func TestProtectionExclusivity(t *testing.T) {
	c := New(8)
	r := rand.New(rand.NewPCG(1, 2))
	for range 2000 {
		owner := uint64(r.IntN(3))
		id := uint64(r.IntN(6))
		switch r.IntN(4) {
		case 0:
			c.Insert(owner, id, img(1), false)
		case 1:
			c.Insert(owner, id, img(1), true)
		case 2:
			c.Protect(owner, id)
		case 3:
			c.Remove(owner, id)
		}
		for o := uint64(0); o < 3; o++ {
			n := 0
			for cmd := uint64(0); cmd < 6; cmd++ {
				if c.IsProtected(o, cmd) {
					n++
				}
			}
			if n > 1 {
				t.Fatalf("owner %d has %d protected entries", o, n)
			}
		}
	}
}

func BenchmarkInsertProtect(b *testing.B) {
	c := New(64)
	im := img(4)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		id := uint64(i % 128)
		c.Insert(1, id, im, false)
		c.Protect(1, id)
	}
}
