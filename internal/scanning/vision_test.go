package scanning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Vision", func() {
	var (
		server *ghttp.Server
		source *Vision
		text   string
		err    error
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		source, err = NewVision(context.Background(), VisionConfig{
			APIKey:   "vision-key",
			Endpoint: server.URL() + "/",
			Language: "es",
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	JustBeforeEach(func() {
		text, err = source.ExtractText(context.Background(), []byte("fake jpeg"), "image/jpeg")
	})

	When("text is detected", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest("POST", "/v1/images:annotate"),
				func(w http.ResponseWriter, r *http.Request) {
					defer GinkgoRecover()
					Expect(r.URL.Query().Get("key")).To(Equal("vision-key"))

					var body struct {
						Requests []struct {
							Image struct {
								Content string `json:"content"`
							} `json:"image"`
							Features []struct {
								Type string `json:"type"`
							} `json:"features"`
							ImageContext struct {
								LanguageHints []string `json:"languageHints"`
							} `json:"imageContext"`
						} `json:"requests"`
					}
					Expect(json.NewDecoder(r.Body).Decode(&body)).To(Succeed())
					Expect(body.Requests).To(HaveLen(1))
					Expect(body.Requests[0].Image.Content).To(Equal(base64.StdEncoding.EncodeToString([]byte("fake jpeg"))))
					Expect(body.Requests[0].Features[0].Type).To(Equal("TEXT_DETECTION"))
					Expect(body.Requests[0].ImageContext.LanguageHints).To(Equal([]string{"es"}))
				},
				ghttp.RespondWith(http.StatusOK, `{
					"responses": [{
						"textAnnotations": [{"description": "first annotation"}],
						"fullTextAnnotation": {"text": "ACME\nTotal 100.00"}
					}]
				}`),
			))
		})

		It("returns the full text annotation", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("ACME\nTotal 100.00"))
		})
	})

	When("only text annotations are present", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"responses": [{"textAnnotations": [{"description": "ACME"}]}]}`))
		})

		It("falls back to the first annotation", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("ACME"))
		})
	})

	When("no text is detected", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"responses": [{}]}`))
		})

		It("returns empty text without an error", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(BeEmpty())
		})
	})

	When("the image response carries an error", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"responses": [{"error": {"code": 3, "message": "Bad image data."}}]}`))
		})

		It("returns the provider message", func() {
			Expect(err).To(MatchError(ContainSubstring("Bad image data.")))
		})
	})

	When("the API rejects the request", func() {
		BeforeEach(func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusForbidden, `{"error": {"code": 403, "message": "API key not valid."}}`))
		})

		It("returns an error", func() {
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("calling vision API"))
		})
	})
})

var _ = Describe("Vision with a timeout", func() {
	var server *ghttp.Server

	BeforeEach(func() {
		server = ghttp.NewServer()
		server.AppendHandlers(stallUntilCancelled)
	})

	AfterEach(func() {
		server.Close()
	})

	It("gives up when the API is slower than the timeout", func() {
		source, err := NewVision(context.Background(), VisionConfig{
			APIKey:   "vision-key",
			Endpoint: server.URL() + "/",
			Timeout:  50 * time.Millisecond,
		})
		Expect(err).NotTo(HaveOccurred())

		started := time.Now()
		_, err = source.ExtractText(context.Background(), []byte("fake jpeg"), "image/jpeg")
		Expect(err).To(MatchError(ContainSubstring("calling vision API")))
		Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
		Expect(time.Since(started)).To(BeNumerically("<", 2*time.Second))
	})
})

// stallUntilCancelled answers only after the client has gone away
func stallUntilCancelled(w http.ResponseWriter, r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-time.After(5 * time.Second):
	}
	w.WriteHeader(http.StatusOK)
}
