package tokens_test

import (
	"strings"
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/recap/pkg/tokens"
)

var samples = []string{
	"",
	"a",
	"Alice discusses quarterly revenue and the outlook for next year.",
	strings.Repeat("chunk tokens precisely. ", 200),
	"naïve café résumé — ünïcödé 日本語のテキスト 🎉🎉🎉",
	"Hello world, this is    a test with    irregular spacing.",
	strings.Repeat("日本語", 97),
	"<|endoftext|> is just text here",
}

var _ = Describe("Estimators", func() {
	estimators := []struct {
		name  string
		build func() tokens.Estimator
	}{
		{"chars", func() tokens.Estimator { return tokens.NewCharEstimator() }},
		{"bpe", func() tokens.Estimator {
			e, err := tokens.NewBPEEstimator(tokens.DefaultEncoding)
			Expect(err).NotTo(HaveOccurred())
			return e
		}},
	}

	for _, tc := range estimators {
		Describe(tc.name, func() {
			var estimator tokens.Estimator

			BeforeEach(func() {
				estimator = tc.build()
			})

			It("counts zero tokens for empty text", func() {
				Expect(estimator.Estimate("")).To(Equal(0))
			})

			It("is stable for identical input", func() {
				for _, s := range samples {
					Expect(estimator.Estimate(s)).To(Equal(estimator.Estimate(s)))
				}
			})

			It("grows with text length", func() {
				short := estimator.Estimate("quarterly revenue")
				long := estimator.Estimate(strings.Repeat("quarterly revenue ", 50))
				Expect(long).To(BeNumerically(">", short))
			})

			It("never trims past the budget", func() {
				for _, s := range samples {
					for _, limit := range []int{0, 1, 2, 3, 7, 16, 100, 10000} {
						trimmed := tokens.Trim(estimator, s, limit)

						Expect(estimator.Estimate(trimmed)).To(BeNumerically("<=", limit))
						Expect(strings.HasPrefix(s, trimmed)).To(BeTrue())
						Expect(utf8.ValidString(trimmed)).To(BeTrue())
					}
				}
			})

			It("trims to the longest fitting prefix", func() {
				for _, s := range samples {
					for _, limit := range []int{1, 2, 3, 5, 6, 7, 16, 100} {
						trimmed := tokens.Trim(estimator, s, limit)
						if trimmed == s {
							continue
						}

						_, size := utf8.DecodeRuneInString(s[len(trimmed):])
						longer := s[:len(trimmed)+size]
						Expect(estimator.Estimate(longer)).To(BeNumerically(">", limit),
							"%q fits in %d tokens but %q was returned", longer, limit, trimmed)
					}
				}
			})

			It("returns the text unchanged when it already fits", func() {
				text := "short text"
				Expect(tokens.Trim(estimator, text, 4096)).To(Equal(text))
			})
		})
	}

	Describe("CharEstimator", func() {
		It("rounds partial tokens up by rune count", func() {
			e := tokens.NewCharEstimator()

			Expect(e.Estimate("abcd")).To(Equal(1))
			Expect(e.Estimate("abcde")).To(Equal(2))
			Expect(e.Estimate("日本語の")).To(Equal(1))
		})

		It("trims to the longest fitting rune prefix", func() {
			e := tokens.NewCharEstimator()

			Expect(tokens.Trim(e, "日本語のテキスト", 1)).To(Equal("日本語の"))
			Expect(tokens.Trim(e, "abcdefghij", 2)).To(Equal("abcdefgh"))
		})
	})

	Describe("New", func() {
		It("selects the heuristic for the chars encoding", func() {
			e, err := tokens.New(tokens.CharsEncoding)
			Expect(err).NotTo(HaveOccurred())
			Expect(e).To(BeAssignableToTypeOf(&tokens.CharEstimator{}))
		})

		It("rejects unknown encodings", func() {
			_, err := tokens.New("no_such_encoding")
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("Budget", func() {
	It("accepts a reservation smaller than the allowance", func() {
		Expect(tokens.Budget{Available: 8192, ReservedForResponse: 1024}.Validate()).To(Succeed())
	})

	It("rejects a reservation that consumes the whole allowance", func() {
		Expect(tokens.Budget{Available: 1024, ReservedForResponse: 1024}.Validate()).NotTo(Succeed())
		Expect(tokens.Budget{Available: 0, ReservedForResponse: 0}.Validate()).NotTo(Succeed())
	})

	It("treats an exact fit as fitting", func() {
		b := tokens.Budget{Available: 100, ReservedForResponse: 40}

		Expect(b.Fits(60)).To(BeTrue())
		Expect(b.Fits(61)).To(BeFalse())
		Expect(b.PromptAllowance()).To(Equal(60))
	})
})
