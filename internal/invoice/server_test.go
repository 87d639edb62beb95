package invoice

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/xuri/excelize/v2"

	"github.com/zombor/invoice-reader/internal/export"
	"github.com/zombor/invoice-reader/internal/extraction"
)

func uploadBody(filename string, data []byte) (*bytes.Buffer, string) {
	var b bytes.Buffer
	writer := multipart.NewWriter(&b)
	part, err := writer.CreateFormFile("file", filename)
	Expect(err).NotTo(HaveOccurred())
	_, err = part.Write(data)
	Expect(err).NotTo(HaveOccurred())
	Expect(writer.Close()).To(Succeed())
	return &b, writer.FormDataContentType()
}

func decodeJSON(resp *http.Response, v any) {
	defer resp.Body.Close()
	Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
}

var _ = Describe("Server", func() {
	var (
		source      *mockSource
		extractor   *mockExtractor
		config      ServerConfig
		server      *Server
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service := NewServiceWithDeps(source, extractor, fixedIDGenerator{"req-test"}, fixedClock{frozenNow})
		server = NewServerWithMux(service, config, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	upload := func(query, filename string, data []byte) *http.Response {
		body, contentType := uploadBody(filename, data)
		resp, err := http.Post(ghttpServer.URL()+"/api/invoices"+query, contentType, body)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	BeforeEach(func() {
		source = newMockSource("FACTURA A-0001\nDistribuidora Sur")
		extractor = newMockExtractor(invoiceReply)
		config = ServerConfig{MaxUploadBytes: 1 << 20, Version: "1.2.3"}
		ghttpServer = nil
	})

	JustBeforeEach(func() {
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleIndex", func() {
		It("serves the page with a request id", func() {
			resp, err := http.Get(ghttpServer.URL() + "/")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get(RequestIDHeader)).To(Equal("req-test"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("Lector de Facturas"))
			Expect(string(body)).To(ContainSubstring(`accept=".jpg,.jpeg,.png"`))
			Expect(string(body)).To(ContainSubstring(`<img id="preview"`))
		})

		It("rejects other methods", func() {
			resp, err := http.Post(ghttpServer.URL()+"/", "text/plain", nil)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("static assets", func() {
		It("serves the script as JavaScript", func() {
			resp, err := http.Get(ghttpServer.URL() + "/static/app.js")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/javascript; charset=utf-8"))
		})

		It("previews the chosen image", func() {
			resp, err := http.Get(ghttpServer.URL() + "/static/app.js")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			script, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(script)).To(ContainSubstring("URL.createObjectURL(file)"))
			Expect(string(script)).To(ContainSubstring(`getElementById("preview")`))
		})
	})

	Describe("handleHealth", func() {
		It("reports the backends and version", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/health")
			Expect(err).NotTo(HaveOccurred())
			var body map[string]string
			decodeJSON(resp, &body)
			Expect(body).To(Equal(map[string]string{
				"status":    "ok",
				"source":    "mock-ocr",
				"extractor": "mock-llm",
				"version":   "1.2.3",
			}))
		})
	})

	Describe("handleUploadInvoice", func() {
		When("the upload succeeds", func() {
			It("returns the result as JSON", func() {
				resp := upload("", "factura.jpg", []byte("fake image data"))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var body struct {
					RequestID string         `json:"request_id"`
					Source    string         `json:"source"`
					RawText   string         `json:"raw_text"`
					Reply     string         `json:"reply"`
					Record    map[string]any `json:"record"`
				}
				decodeJSON(resp, &body)
				Expect(body.RequestID).To(Equal("req-test"))
				Expect(body.Source).To(Equal("mock-ocr"))
				Expect(body.RawText).To(Equal("FACTURA A-0001\nDistribuidora Sur"))
				Expect(body.Reply).To(Equal(invoiceReply))
				Expect(body.Record).To(HaveKeyWithValue("provider", "Distribuidora Sur"))
				Expect(body.Record).To(HaveKeyWithValue("days_until_due", BeNumerically("==", 9)))
				Expect(body.Record).To(HaveKeyWithValue("invoice_number", "A-0001"))
			})

			It("detects the type from the extension", func() {
				resp := upload("", "factura.PNG", []byte("fake image data"))
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(source.contentType).To(Equal("image/png"))
			})
		})

		When("a CSV export is requested", func() {
			It("returns the rendered file as an attachment", func() {
				resp := upload("?format=csv", "factura.jpg", []byte("fake image data"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("text/csv; charset=utf-8"))
				Expect(resp.Header.Get("Content-Disposition")).To(Equal("attachment; filename=factura_extraida.csv"))

				rows, err := csv.NewReader(resp.Body).ReadAll()
				Expect(err).NotTo(HaveOccurred())
				Expect(rows).To(HaveLen(2))
				Expect(rows[0]).To(Equal(extraction.Fields))
				Expect(rows[1][0]).To(Equal("Distribuidora Sur"))
				Expect(rows[1][6]).To(Equal("9"))
			})
		})

		When("an XLSX export is requested", func() {
			It("returns a workbook", func() {
				resp := upload("?format=xlsx", "factura.jpg", []byte("fake image data"))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("factura_extraida.xlsx"))

				workbook, err := excelize.OpenReader(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				defer workbook.Close()
				value, err := workbook.GetCellValue(export.SheetName, "A2")
				Expect(err).NotTo(HaveOccurred())
				Expect(value).To(Equal("Distribuidora Sur"))
			})
		})

		When("the export format is unknown", func() {
			It("returns bad request without running the pipeline", func() {
				resp := upload("?format=pdf", "factura.jpg", []byte("fake image data"))
				var body errorBody
				decodeJSON(resp, &body)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(body.Error).To(ContainSubstring("unsupported export format"))
				Expect(source.calls.Load()).To(BeZero())
			})
		})

		When("no file is provided", func() {
			It("returns bad request", func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				Expect(writer.WriteField("other", "value")).To(Succeed())
				Expect(writer.Close()).To(Succeed())

				resp, err := http.Post(ghttpServer.URL()+"/api/invoices", writer.FormDataContentType(), &b)
				Expect(err).NotTo(HaveOccurred())
				var body errorBody
				decodeJSON(resp, &body)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(body.Error).To(ContainSubstring("No file was selected"))
			})
		})

		When("the body is not multipart", func() {
			It("returns bad request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/invoices", "application/json", strings.NewReader("{}"))
				Expect(err).NotTo(HaveOccurred())
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("the file type is not supported", func() {
			It("rejects a GIF", func() {
				resp := upload("", "factura.gif", []byte("GIF89a"))
				var body errorBody
				decodeJSON(resp, &body)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(body.Error).To(ContainSubstring(".jpg, .jpeg, .png"))
			})

			It("rejects a PDF unless extended formats are enabled", func() {
				resp := upload("", "factura.pdf", []byte("%PDF-1.4"))
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(source.calls.Load()).To(BeZero())
			})
		})

		When("extended formats are enabled", func() {
			BeforeEach(func() {
				config.AcceptExtended = true
			})

			It("accepts a HEIC upload", func() {
				resp := upload("", "IMG_0001.HEIC", []byte("fake heic"))
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(source.contentType).To(Equal("image/heic"))
			})
		})

		When("the file is over the size limit", func() {
			BeforeEach(func() {
				config.MaxUploadBytes = 8
			})

			It("returns bad request", func() {
				resp := upload("", "factura.jpg", []byte("this is more than eight bytes"))
				var body errorBody
				decodeJSON(resp, &body)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(body.Error).To(ContainSubstring("too large"))
			})
		})

		When("the text source fails", func() {
			BeforeEach(func() {
				source.err = errors.New("connection refused")
			})

			It("returns bad gateway with the kind", func() {
				resp := upload("", "factura.jpg", []byte("fake image data"))
				var body errorBody
				decodeJSON(resp, &body)
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(body.Kind).To(Equal(extraction.SourceUnavailable))
				Expect(body.Detail).To(Equal("connection refused"))
			})
		})

		When("the extractor fails", func() {
			BeforeEach(func() {
				extractor.err = errors.New("quota exceeded")
			})

			It("returns bad gateway with the raw text", func() {
				resp := upload("", "factura.jpg", []byte("fake image data"))
				var body errorBody
				decodeJSON(resp, &body)
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				Expect(body.Kind).To(Equal(extraction.ExtractorUnavailable))
				Expect(body.RawText).To(ContainSubstring("FACTURA A-0001"))
			})
		})

		When("no text is extracted", func() {
			BeforeEach(func() {
				source.text = "   "
			})

			It("returns unprocessable entity", func() {
				resp := upload("", "factura.jpg", []byte("fake image data"))
				var body errorBody
				decodeJSON(resp, &body)
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(body.Kind).To(Equal(extraction.NoTextExtracted))
			})
		})

		When("the reply has no JSON", func() {
			BeforeEach(func() {
				extractor.reply = "Sorry, I cannot help with that."
			})

			It("returns unprocessable entity with the reply", func() {
				resp := upload("", "factura.jpg", []byte("fake image data"))
				var body errorBody
				decodeJSON(resp, &body)
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(body.Kind).To(Equal(extraction.NoJSONFound))
				Expect(body.Reply).To(Equal("Sorry, I cannot help with that."))
			})
		})

		When("the reply has malformed JSON", func() {
			BeforeEach(func() {
				extractor.reply = `{"provider": "ACME" "total_amount": "1"}`
			})

			It("returns unprocessable entity with the parser detail", func() {
				resp := upload("", "factura.jpg", []byte("fake image data"))
				var body errorBody
				decodeJSON(resp, &body)
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				Expect(body.Kind).To(Equal(extraction.MalformedJSON))
				Expect(body.Detail).To(ContainSubstring("invalid character"))
				Expect(body.Reply).To(Equal(extractor.reply))
			})
		})

		When("the rate limit is exhausted", func() {
			BeforeEach(func() {
				config.RateLimit = 1
			})

			It("returns too many requests", func() {
				ghttpServer.AppendHandlers(server.ServeHTTP)

				first := upload("", "factura.jpg", []byte("fake image data"))
				first.Body.Close()
				Expect(first.StatusCode).To(Equal(http.StatusOK))

				second := upload("", "factura.jpg", []byte("fake image data"))
				second.Body.Close()
				Expect(second.StatusCode).To(Equal(http.StatusTooManyRequests))
				Expect(source.calls.Load()).To(Equal(int32(1)))
			})
		})
	})

	Describe("handleExport", func() {
		post := func(query, body string) *http.Response {
			resp, err := http.Post(ghttpServer.URL()+"/api/exports"+query, "application/json", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		It("renders a posted record as CSV", func() {
			resp := post("?format=csv", `{"provider":"ACME","total_amount":"100.00","days_until_due":"error"}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Disposition")).To(Equal("attachment; filename=factura_extraida.csv"))

			rows, err := csv.NewReader(resp.Body).ReadAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(rows[1]).To(Equal([]string{"ACME", "100.00", "", "", "", "", extraction.NotSpecified}))
		})

		It("recounts the days from the posted due date", func() {
			resp := post("?format=csv", `{"provider":"ACME","due_date":"20/01/2030","days_until_due":999}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			rows, err := csv.NewReader(resp.Body).ReadAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(rows[1]).To(Equal([]string{"ACME", "", "", "", "20/01/2030", "", "9"}))
		})

		It("marks an unreadable posted due date as an error", func() {
			resp := post("?format=csv", `{"due_date":"31/02/2030","days_until_due":5}`)
			defer resp.Body.Close()

			rows, err := csv.NewReader(resp.Body).ReadAll()
			Expect(err).NotTo(HaveOccurred())
			Expect(rows[1][6]).To(Equal(extraction.DateError))
		})

		It("renders a posted record as XLSX", func() {
			resp := post("?format=xlsx", `{"provider":"ACME","days_until_due":12}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(ContainSubstring("spreadsheetml"))
		})

		It("requires a format", func() {
			resp := post("", `{"provider":"ACME"}`)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("rejects an invalid body", func() {
			resp := post("?format=csv", `{"days_until_due": true}`)
			var body errorBody
			decodeJSON(resp, &body)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(body.Error).To(Equal("Invalid request body"))
		})
	})
})
