package pushcmder

import (
	"context"
	"net"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/recap/gateway"
	"github.com/papercomputeco/recap/pkg/config"
	"github.com/papercomputeco/recap/pkg/conversation"
	"github.com/papercomputeco/recap/pkg/llm"
	"github.com/papercomputeco/recap/pkg/merkle"
	"github.com/papercomputeco/recap/pkg/prompt"
)

const testPassword = "hunter2"

var _ = Describe("Push Command", func() {
	var (
		ctx          context.Context
		tmpDir       string
		srcPath      string
		remoteStorer *merkle.MemoryStorer
		gw           *gateway.Gateway
		serverURL    string
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		tmpDir, err = os.MkdirTemp("", "recap-push-test-*")
		Expect(err).NotTo(HaveOccurred())
		srcPath = filepath.Join(tmpDir, "source.db")

		cfg := &config.Config{
			Server:   config.ServerConfig{Password: testPassword},
			Upstream: config.UpstreamConfig{APIKey: "sk-test", Model: "test-model"},
		}
		Expect(cfg.Validate()).To(Succeed())

		remoteStorer = merkle.NewMemoryStorer()
		gw, err = gateway.New(cfg, zap.NewNop(), gateway.WithStorer(remoteStorer))
		Expect(err).NotTo(HaveOccurred())

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		serverURL = "http://" + ln.Addr().String()

		go func() {
			defer GinkgoRecover()
			_ = gw.RunWithListener(ln)
		}()
	})

	AfterEach(func() {
		Expect(gw.Shutdown(ctx)).To(Succeed())
		os.RemoveAll(tmpDir)
	})

	seed := func(transcript string) {
		storer, err := merkle.NewSQLiteStorer(srcPath)
		Expect(err).NotTo(HaveOccurred())
		store := conversation.NewStore(storer)
		defer store.Close()

		_, err = store.Append(ctx, "",
			llm.Message{Role: llm.RoleUser, Content: prompt.WrapTranscript(transcript)},
			llm.Message{Role: llm.RoleAssistant, Content: "summary of " + transcript},
		)
		Expect(err).NotTo(HaveOccurred())
	}

	remoteCount := func() int {
		nodes, err := merkle.Walk(ctx, remoteStorer)
		Expect(err).NotTo(HaveOccurred())
		return len(nodes)
	}

	It("pushes local turns to the gateway", func() {
		seed("a meeting")

		cmd := NewPushCmd()
		cmd.SetArgs([]string{"--sqlite", srcPath, "--password", testPassword, serverURL})
		Expect(cmd.ExecuteContext(ctx)).To(Succeed())

		Expect(remoteCount()).To(Equal(2))
	})

	It("is idempotent across repeated pushes", func() {
		seed("a meeting")

		for range 2 {
			cmd := NewPushCmd()
			cmd.SetArgs([]string{"--sqlite", srcPath, "--password", testPassword, serverURL})
			Expect(cmd.ExecuteContext(ctx)).To(Succeed())
		}

		Expect(remoteCount()).To(Equal(2))
	})

	It("pushes in batches", func() {
		seed("first meeting")
		seed("second meeting")

		cmd := NewPushCmd()
		cmd.SetArgs([]string{"--sqlite", srcPath, "--password", testPassword, "--batch-size", "1", serverURL})
		Expect(cmd.ExecuteContext(ctx)).To(Succeed())

		Expect(remoteCount()).To(Equal(4))
	})

	It("fails with the wrong password", func() {
		seed("a meeting")

		cmd := NewPushCmd()
		cmd.SetArgs([]string{"--sqlite", srcPath, "--password", "wrong", serverURL})
		Expect(cmd.ExecuteContext(ctx)).To(MatchError(ContainSubstring("401")))

		Expect(remoteCount()).To(Equal(0))
	})
})
