package merkle_test

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recap/pkg/merkle"
)

var _ = Describe("Storer", func() {
	storerBehaviour := func(newStorer func() merkle.Storer) {
		var (
			storer merkle.Storer
			ctx    context.Context
		)

		BeforeEach(func() {
			ctx = context.Background()
			storer = newStorer()
		})

		AfterEach(func() {
			Expect(storer.Close()).To(Succeed())
		})

		It("stores and retrieves a node with parent", func() {
			parent := merkle.NewNode(turn("user", "parent"), nil)
			child := merkle.NewNode(turn("assistant", "child"), parent)

			Expect(storer.Put(ctx, parent)).To(Succeed())
			Expect(storer.Put(ctx, child)).To(Succeed())

			retrieved, err := storer.Get(ctx, child.Hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(retrieved.Content).To(Equal(child.Content))
			Expect(*retrieved.ParentHash).To(Equal(parent.Hash))
		})

		It("returns ErrNotFound for non-existent hash", func() {
			_, err := storer.Get(ctx, "nonexistent")

			var notFoundErr merkle.ErrNotFound
			Expect(err).To(BeAssignableToTypeOf(notFoundErr))
		})

		It("reports presence with Has", func() {
			node := merkle.NewNode(turn("user", "test"), nil)
			Expect(storer.Put(ctx, node)).To(Succeed())

			Expect(storer.Has(ctx, node.Hash)).To(BeTrue())
			Expect(storer.Has(ctx, "nonexistent")).To(BeFalse())
		})

		It("rejects nil nodes", func() {
			err := storer.Put(ctx, nil)
			Expect(err).To(MatchError(ContainSubstring("nil node")))
		})

		It("deduplicates identical nodes and branches different ones", func() {
			parent := merkle.NewNode(turn("user", "question"), nil)
			branch1 := merkle.NewNode(turn("assistant", "answer one"), parent)
			branch2 := merkle.NewNode(turn("assistant", "answer two"), parent)

			Expect(storer.Put(ctx, parent)).To(Succeed())
			Expect(storer.Put(ctx, parent)).To(Succeed())
			Expect(storer.Put(ctx, branch1)).To(Succeed())
			Expect(storer.Put(ctx, branch2)).To(Succeed())

			leaves, err := storer.Leaves(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(leaves).To(HaveLen(2))
		})

		It("returns the ancestry from node to root", func() {
			root := merkle.NewNode(turn("user", "root"), nil)
			child := merkle.NewNode(turn("assistant", "child"), root)
			grandchild := merkle.NewNode(turn("user", "grandchild"), child)

			for _, n := range []*merkle.Node{root, child, grandchild} {
				Expect(storer.Put(ctx, n)).To(Succeed())
			}

			path, err := storer.Ancestry(ctx, grandchild.Hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(HaveLen(3))
			Expect(path[0].Content.Content).To(Equal("grandchild"))
			Expect(path[2].Content.Content).To(Equal("root"))
		})

		It("walks every node once with parents first", func() {
			root := merkle.NewNode(turn("user", "root"), nil)
			left := merkle.NewNode(turn("assistant", "left"), root)
			right := merkle.NewNode(turn("assistant", "right"), root)

			for _, n := range []*merkle.Node{root, left, right} {
				Expect(storer.Put(ctx, n)).To(Succeed())
			}

			nodes, err := merkle.Walk(ctx, storer)
			Expect(err).NotTo(HaveOccurred())
			Expect(nodes).To(HaveLen(3))
			Expect(nodes[0].Hash).To(Equal(root.Hash))

			var hashes []string
			for _, n := range nodes {
				hashes = append(hashes, n.Hash)
			}
			Expect(hashes).To(ConsistOf(root.Hash, left.Hash, right.Hash))
		})
	}

	Describe("MemoryStorer", func() {
		storerBehaviour(func() merkle.Storer { return merkle.NewMemoryStorer() })
	})

	Describe("SQLiteStorer", func() {
		storerBehaviour(func() merkle.Storer {
			s, err := merkle.NewSQLiteStorer(":memory:")
			Expect(err).NotTo(HaveOccurred())
			return s
		})

		It("creates a file database", func() {
			dbPath := filepath.Join(GinkgoT().TempDir(), "test.db")

			s, err := merkle.NewSQLiteStorer(dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer s.Close()

			_, err = os.Stat(dbPath)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
