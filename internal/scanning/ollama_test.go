package scanning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server   *ghttp.Server
		scanner  *Ollama
		captured ollamaChatRequest
		text     string
		err      error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		captured = ollamaChatRequest{}
		var newErr error
		scanner, newErr = NewOllama(server.URL()+"/", "llava", 5*time.Second)
		Expect(newErr).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	captureRequest := func(w http.ResponseWriter, r *http.Request) {
		body, readErr := io.ReadAll(r.Body)
		Expect(readErr).NotTo(HaveOccurred())
		Expect(json.Unmarshal(body, &captured)).To(Succeed())
	}

	JustBeforeEach(func() {
		text, err = scanner.Extract(context.Background(), Image{Data: []byte("png-bytes"), Format: "png"})
	})

	When("the API responds", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
				ghttp.VerifyContentType("application/json"),
				captureRequest,
				ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
					"message": map[string]string{"role": "assistant", "content": "  [{\"vendor\": \"Target\"}]\n"},
					"done":    true,
				}),
			))
		})

		It("should return the trimmed message content", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal(`[{"vendor": "Target"}]`))
		})

		It("should send the prompt with the image", func() {
			Expect(captured.Model).To(Equal("llava"))
			Expect(captured.Stream).To(BeFalse())
			Expect(captured.Messages).To(HaveLen(1))
			Expect(captured.Messages[0].Content).To(Equal(ReceiptPrompt))
			Expect(captured.Messages[0].Images).To(ConsistOf(base64.StdEncoding.EncodeToString([]byte("png-bytes"))))
		})

		It("should use the fixed temperature", func() {
			Expect(captured.Options.Temperature).To(BeNumerically("~", Temperature))
		})
	})

	When("the API returns an error status", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
		})

		It("returns the error with the body", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("status 500"))
			Expect(err.Error()).To(ContainSubstring("model not loaded"))
		})
	})

	When("the API returns invalid JSON", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, "not json"))
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("decoding response"))
		})
	})
})
