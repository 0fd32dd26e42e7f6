package merkle_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recap/pkg/merkle"
)

func turn(role, content string) merkle.Bucket {
	return merkle.Bucket{Type: "message", Role: role, Content: content}
}

var _ = Describe("Node", func() {
	Describe("NewNode", func() {
		Context("when creating a root node (no parent)", func() {
			It("keeps the given content", func() {
				node := merkle.NewNode(turn("user", "hello world"), nil)

				Expect(node.Content.Content).To(Equal("hello world"))
				Expect(node.ParentHash).To(BeNil())
			})

			It("produces consistent hashes for the same content", func() {
				node1 := merkle.NewNode(turn("user", "same"), nil)
				node2 := merkle.NewNode(turn("user", "same"), nil)

				Expect(node1.Hash).To(Equal(node2.Hash))
			})

			It("produces different hashes for different roles", func() {
				node1 := merkle.NewNode(turn("user", "same"), nil)
				node2 := merkle.NewNode(turn("assistant", "same"), nil)

				Expect(node1.Hash).NotTo(Equal(node2.Hash))
			})
		})

		Context("when creating a child node", func() {
			var parent *merkle.Node

			BeforeEach(func() {
				parent = merkle.NewNode(turn("user", "parent"), nil)
			})

			It("links the child to the parent via ParentHash", func() {
				child := merkle.NewNode(turn("assistant", "child"), parent)

				Expect(child.ParentHash).NotTo(BeNil())
				Expect(*child.ParentHash).To(Equal(parent.Hash))
			})

			It("produces different hashes for same content with different parents", func() {
				parent2 := merkle.NewNode(turn("user", "other parent"), nil)
				child1 := merkle.NewNode(turn("assistant", "same"), parent)
				child2 := merkle.NewNode(turn("assistant", "same"), parent2)

				Expect(child1.Hash).NotTo(Equal(child2.Hash))
			})
		})
	})

	It("produces a valid SHA-256 hex string", func() {
		node := merkle.NewNode(turn("user", "test"), nil)

		Expect(node.Hash).To(MatchRegexp("^[a-f0-9]{64}$"))
	})

	Describe("Verify", func() {
		It("accepts an untouched node", func() {
			Expect(merkle.NewNode(turn("user", "test"), nil).Verify()).To(BeTrue())
		})

		It("rejects a node whose content was altered", func() {
			node := merkle.NewNode(turn("user", "test"), nil)
			node.Content.Content = "tampered"

			Expect(node.Verify()).To(BeFalse())
		})
	})
})
