package aggregate

import (
	"math/rand/v2"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTree_InsertIsIdempotent(t *testing.T) {
	tree := NewTree()

	assert.True(t, tree.Insert(10))
	assert.False(t, tree.Insert(10), "Повторная вставка не должна ничего менять")

	n, err := tree.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTree_RemoveAbsentIsNoop(t *testing.T) {
	tree := NewTree()
	tree.Insert(1)

	removed, err := tree.Remove(2)

	require.NoError(t, err)
	assert.False(t, removed)
	n, _ := tree.Count()
	assert.Equal(t, 1, n)
}

func TestTree_CountAfterInsertsAndRemoves(t *testing.T) {
	tests := []struct {
		name    string
		inserts int
		removes int
	}{
		{"пустое дерево", 0, 0},
		{"только вставки", 100, 0},
		{"всё удалено", 50, 50},
		{"частичное удаление", 1000, 377},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			rng := rand.New(rand.NewPCG(1, uint64(tt.inserts)))
			tree := NewTree()
			ids := rng.Perm(tt.inserts * 3)[:tt.inserts]
			for _, id := range ids {
				require.True(t, tree.Insert(uint64(id)))
			}

			// Act
			for _, id := range ids[:tt.removes] {
				removed, err := tree.Remove(uint64(id))
				require.NoError(t, err)
				require.True(t, removed)
			}

			// Assert
			n, err := tree.Count()
			require.NoError(t, err)
			assert.Equal(t, tt.inserts-tt.removes, n)
			assert.NoError(t, tree.Validate())
		})
	}
}

func TestTree_AtEnumeratesMembersExactly(t *testing.T) {
	// Arrange
	rng := rand.New(rand.NewPCG(7, 7))
	tree := NewTree()
	members := make(map[uint64]bool)
	for i := 0; i < 2000; i++ {
		id := uint64(rng.IntN(800))
		if rng.IntN(3) == 0 {
			_, err := tree.Remove(id)
			require.NoError(t, err)
			delete(members, id)
		} else {
			tree.Insert(id)
			members[id] = true
		}
	}

	// Act
	n, err := tree.Count()
	require.NoError(t, err)
	seen := make(map[uint64]bool, n)
	for i := 0; i < n; i++ {
		id, ok, err := tree.At(i)
		require.NoError(t, err)
		require.True(t, ok)
		require.False(t, seen[id], "Дубликат id %d на ранге %d", id, i)
		seen[id] = true
	}

	// Assert
	assert.Equal(t, members, seen)
	_, ok, err := tree.At(n)
	require.NoError(t, err)
	assert.False(t, ok, "Ранг вне диапазона должен давать ok=false")
	_, ok, _ = tree.At(-1)
	assert.False(t, ok)
	assert.NoError(t, tree.Validate())
}

func TestTree_AtFollowsInsertionOrder(t *testing.T) {
	tree := NewTree()
	for _, id := range []uint64{50, 10, 30, 20} {
		tree.Insert(id)
	}
	_, err := tree.Remove(10)
	require.NoError(t, err)
	tree.Insert(10)

	assert.Equal(t, []uint64{50, 30, 20, 10}, tree.Members())
	id, ok, err := tree.At(1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(30), id)
}

func TestTree_StaysBalanced(t *testing.T) {
	// Монотонные ключи - худший случай для несбалансированного дерева
	tree := NewTree()
	for i := uint64(1); i <= 1<<14; i++ {
		tree.Insert(i)
	}

	stats := tree.Stats()

	assert.Equal(t, 1<<14, stats.Size)
	// Высота BB[α]-дерева при Δ=3 не превышает log_{4/3}(n+1) ≈ 2.41*log2(n)
	assert.LessOrEqual(t, stats.Height, 35)
	assert.NoError(t, tree.Validate())
}

func TestTree_CountRange(t *testing.T) {
	tree := NewTree()
	for i := uint64(100); i < 110; i++ {
		tree.Insert(i) // ключи 1..10
	}
	_, err := tree.Remove(104) // ключ 5
	require.NoError(t, err)

	tests := []struct {
		name     string
		from, to uint64
		want     int
	}{
		{"весь диапазон", 0, 0, 9},
		{"от ключа 3", 3, 0, 7},
		{"[3, 7) без удалённого", 3, 7, 3},
		{"пустой", 7, 3, 0},
		{"за пределами", 100, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := tree.CountRange(tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestTree_ClearKeepsWatermark(t *testing.T) {
	tree := NewTree()
	tree.Insert(1)
	tree.Insert(2)
	before := tree.Watermark()

	assert.Equal(t, 2, tree.Clear())

	n, err := tree.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, before, tree.Watermark())
	assert.True(t, tree.Insert(1))
}

// ============================================================================
// Обнаружение повреждений
// ============================================================================

func TestTree_DetectsSizeMismatch(t *testing.T) {
	// Arrange
	tree := NewTree()
	for i := uint64(1); i <= 20; i++ {
		tree.Insert(i)
	}
	tree.root.left.size += 3

	// Act
	_, _, atErr := tree.At(0)
	validateErr := tree.Validate()

	// Assert
	assert.Error(t, atErr)
	assert.Error(t, validateErr)
}

func TestTree_DetectsIndexDrift(t *testing.T) {
	tree := NewTree()
	tree.Insert(1)
	tree.Insert(2)
	tree.index[3] = 99 // id проиндексирован, но в дереве его нет

	_, countErr := tree.Count()
	_, removeErr := tree.Remove(3)

	assert.Error(t, countErr)
	assert.Error(t, removeErr)
}

func TestTree_DetectsDanglingLink(t *testing.T) {
	tree := NewTree()
	for i := uint64(1); i <= 7; i++ {
		tree.Insert(i)
	}
	// Корень обещает правое поддерево, которого больше нет
	tree.root.right = nil
	tree.root.size = sizeOf(tree.root.left) + 1 + 3

	_, _, err := tree.At(6)

	assert.Error(t, err)
}

func TestTree_ConcurrentReadersAndWriters(t *testing.T) {
	tree := NewTree()
	var wg sync.WaitGroup

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for i := uint64(0); i < 500; i++ {
				tree.Insert(base*1000 + i)
				if i%3 == 0 {
					_, _ = tree.Remove(base*1000 + i)
				}
			}
		}(uint64(w))
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				n, err := tree.Count()
				assert.NoError(t, err)
				if n > 0 {
					_, _, err = tree.At(n - 1)
					assert.NoError(t, err)
				}
			}
		}()
	}
	wg.Wait()

	n, err := tree.Count()
	require.NoError(t, err)
	assert.Equal(t, 4*(500-167), n)
	assert.NoError(t, tree.Validate())

	members := tree.Members()
	sorted := append([]uint64(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	assert.Len(t, sorted, n)
}
