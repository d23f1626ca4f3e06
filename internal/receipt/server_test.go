package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/receiptocr/receipt-ocr/internal/extraction"
	"github.com/receiptocr/receipt-ocr/internal/reconcile"
	"github.com/receiptocr/receipt-ocr/internal/scanning"
)

func multipartBody(field, filename, contentType string, data []byte, values map[string]string) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range values {
		Expect(writer.WriteField(k, v)).To(Succeed())
	}
	if field != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
		if contentType != "" {
			h.Set("Content-Type", contentType)
		}
		part, err := writer.CreatePart(h)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
	}
	Expect(writer.Close()).To(Succeed())
	return body, writer.FormDataContentType()
}

func decodeBody(resp *http.Response, v any) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(body, v)).To(Succeed(), string(body))
}

func doRequest(method, url, contentType string, body io.Reader) *http.Response {
	req, err := http.NewRequest(method, url, body)
	Expect(err).NotTo(HaveOccurred())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		scanner     *mockScanner
		service     *Service
		ghttpServer *ghttp.Server
	)

	BeforeEach(func() {
		db = newMockDB()
		db.master = egatMaster()
		storage = newMockStorage()
		scanner = newMockScanner()
	})

	JustBeforeEach(func() {
		service = NewServiceWithDeps(db, scanner, storage, defaultRules(),
			&mockIDGenerator{id: "test-id-123"},
			&mockTimeSource{now: time.Date(2025, 6, 9, 10, 0, 0, 0, time.UTC)})
		server := NewServerWithMux(service, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		ghttpServer.Close()
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := doRequest(http.MethodOptions, ghttpServer.URL()+"/api/receipts", "", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
		})

		It("should set headers on regular responses", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("handleHealth", func() {
		It("should report ok", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			var body map[string]string
			decodeBody(resp, &body)
			Expect(body).To(Equal(map[string]string{"status": "ok"}))
		})
	})

	Describe("handleProcessImage", func() {
		var (
			field       string
			filename    string
			contentType string
			data        []byte
			values      map[string]string
			resp        *http.Response
		)

		BeforeEach(func() {
			field = "receipt_image"
			filename = "receipt.jpg"
			contentType = "image/jpeg"
			data = []byte("fake image data")
			values = map[string]string{"receipt_type": "PTT-Kbank"}
		})

		JustBeforeEach(func() {
			body, ct := multipartBody(field, filename, contentType, data, values)
			resp = doRequest(http.MethodPost, ghttpServer.URL()+"/api/receipts/process-image", ct, body)
		})

		When("the receipt is accepted", func() {
			It("should return status Created with the receipt", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var body map[string]any
				decodeBody(resp, &body)
				Expect(body["id"]).To(Equal("test-id-123"))
				Expect(body["receiptType"]).To(Equal("PTT-Kbank"))
				Expect(body["plateNo"]).To(Equal("กข 1234"))
				Expect(body["amount"]).To(Equal("1500"))
				Expect(body["transactionDate"]).To(Equal("2025-06-09T00:00:00Z"))
			})

			It("should pass the template to the scanner", func() {
				resp.Body.Close()
				Expect(scanner.gotTemplate).To(Equal("PTT-Kbank"))
			})
		})

		When("validation fails", func() {
			BeforeEach(func() {
				raw := completeRaw()
				delete(raw, "liters")
				scanner.result = &scanning.Result{Fields: raw, Text: "line one\nline two"}
			})

			It("should return Unprocessable Entity with the rejections", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

				var body struct {
					Error      string `json:"error"`
					Rejections []struct {
						Field  string `json:"field"`
						Reason string `json:"reason"`
					} `json:"rejections"`
					Fields     map[string]any `json:"fields"`
					Transcript string         `json:"transcript"`
				}
				decodeBody(resp, &body)
				Expect(body.Error).To(Equal("validation failed"))
				Expect(body.Rejections).To(HaveLen(1))
				Expect(body.Rejections[0].Field).To(Equal("liters"))
				Expect(body.Fields["plateNo"]).To(Equal("กข 1234"))
				Expect(body.Transcript).To(Equal("line oneline two"))
				Expect(db.receipts).To(BeEmpty())
			})
		})

		When("the OCR process fails", func() {
			BeforeEach(func() {
				scanner.scanErr = errors.New("model not loaded")
			})

			It("should return Bad Gateway with the cause", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				var body map[string]string
				decodeBody(resp, &body)
				Expect(body["error"]).To(ContainSubstring("model not loaded"))
			})
		})

		When("no file is uploaded", func() {
			BeforeEach(func() {
				field = ""
			})

			It("should return Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				var body map[string]string
				decodeBody(resp, &body)
				Expect(body["error"]).To(Equal("No file uploaded."))
			})
		})

		When("the file is empty", func() {
			BeforeEach(func() {
				data = []byte{}
			})

			It("should return Bad Request", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("no receipt type is given", func() {
			BeforeEach(func() {
				values = nil
			})

			It("should use the generic template", func() {
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				resp.Body.Close()
				Expect(scanner.gotTemplate).To(Equal(DefaultReceiptType))
			})
		})
	})

	Describe("handleProcessImage with a plain body", func() {
		It("should return Bad Request", func() {
			resp := doRequest(http.MethodPost, ghttpServer.URL()+"/api/receipts/process-image", "text/plain", strings.NewReader("hello"))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleCreateReceipt", func() {
		It("should store valid fields", func() {
			payload, err := json.Marshal(map[string]any{
				"receiptType":   "A5",
				"plateNo":       "กข 1234",
				"gas_provider":  "PTT",
				"date":          "2025-06-09",
				"receipt_no":    "99",
				"egatAddress":   egatAddressEN,
				"egatTaxId":     egatTaxID,
				"milestone":     45210,
				"total_amount":  1500.5,
				"liters":        40,
				"pricePerLiter": 37.5,
				"vat":           "98.13",
				"gasType":       "Diesel",
				"original":      true,
				"signature":     false,
			})
			Expect(err).NotTo(HaveOccurred())

			resp := doRequest(http.MethodPost, ghttpServer.URL()+"/api/receipts", "application/json", bytes.NewReader(payload))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var receipt Receipt
			decodeBody(resp, &receipt)
			Expect(receipt.ReceiptType).To(Equal("A5"))
			Expect(*receipt.Milestone).To(Equal("45210"))
			Expect(receipt.Amount.String()).To(Equal("1500.5"))
			Expect(*receipt.Signature).To(BeFalse())
			Expect(db.receipts).To(HaveKey("test-id-123"))
		})

		It("should reject incomplete fields", func() {
			resp := doRequest(http.MethodPost, ghttpServer.URL()+"/api/receipts", "application/json", strings.NewReader(`{"plateNo":"กข 1234"}`))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
		})

		It("should return Bad Request for invalid JSON", func() {
			resp := doRequest(http.MethodPost, ghttpServer.URL()+"/api/receipts", "application/json", strings.NewReader(`{invalid`))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should return Bad Request for null", func() {
			resp := doRequest(http.MethodPost, ghttpServer.URL()+"/api/receipts", "application/json", strings.NewReader(`null`))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should treat an amount beyond float range as missing", func() {
			raw := completeRaw()
			raw["amount"] = json.Number("1e30000000")
			payload, err := json.Marshal(raw)
			Expect(err).NotTo(HaveOccurred())

			resp := doRequest(http.MethodPost, ghttpServer.URL()+"/api/receipts", "application/json", bytes.NewReader(payload))
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))

			var body struct {
				Rejections []reconcile.Rejection `json:"rejections"`
			}
			decodeBody(resp, &body)
			Expect(body.Rejections).To(ConsistOf(reconcile.Rejection{Field: "amount", Reason: reconcile.ReasonRequired}))
			Expect(db.receipts).To(BeEmpty())
		})

		It("should return Request Entity Too Large for oversized bodies", func() {
			payload := `{"plateNo":"` + strings.Repeat("a", maxJSONSize) + `"}`
			resp := doRequest(http.MethodPost, ghttpServer.URL()+"/api/receipts", "application/json", strings.NewReader(payload))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
		})
	})

	Describe("handleListReceipts", func() {
		When("receipts exist", func() {
			BeforeEach(func() {
				db.receipts["id1"] = &Receipt{ID: "id1", CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
				db.receipts["id2"] = &Receipt{ID: "id2", CreatedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)}
			})

			It("should return all receipts, newest first", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var receipts []*Receipt
				decodeBody(resp, &receipts)
				Expect(receipts).To(HaveLen(2))
				Expect(receipts[0].ID).To(Equal("id2"))
			})
		})

		When("no receipts exist", func() {
			It("should return an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("database error")
			})

			It("should return Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				var body map[string]string
				decodeBody(resp, &body)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(body["error"]).To(Equal("Internal server error"))
			})
		})
	})

	Describe("handleGetReceipt", func() {
		BeforeEach(func() {
			db.receipts["id1"] = &Receipt{ID: "id1", Fields: extraction.Fields{PlateNo: strPtr("กข 1234")}}
		})

		It("should return the receipt", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/id1")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var receipt Receipt
			decodeBody(resp, &receipt)
			Expect(receipt.PlateNo).To(Equal(strPtr("กข 1234")))
		})

		It("should return Not Found for unknown receipts", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			var body map[string]string
			decodeBody(resp, &body)
			Expect(body["error"]).To(Equal("Receipt not found."))
		})
	})

	Describe("handleUpdateReceipt", func() {
		BeforeEach(func() {
			db.receipts["id1"] = &Receipt{ID: "id1", ReceiptType: "A5", Fields: extraction.Normalize(completeRaw())}
		})

		It("should apply the partial update", func() {
			resp := doRequest(http.MethodPut, ghttpServer.URL()+"/api/receipts/id1", "application/json", strings.NewReader(`{"gas_type":"Gasohol 91"}`))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var receipt Receipt
			decodeBody(resp, &receipt)
			Expect(receipt.GasType).To(Equal(strPtr("Gasohol 91")))
			Expect(receipt.PlateNo).To(Equal(strPtr("กข 1234")))
		})

		It("should return Unprocessable Entity when the result is invalid", func() {
			resp := doRequest(http.MethodPut, ghttpServer.URL()+"/api/receipts/id1", "application/json", strings.NewReader(`{"amount":"abc"}`))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
		})

		It("should return Not Found for unknown receipts", func() {
			resp := doRequest(http.MethodPut, ghttpServer.URL()+"/api/receipts/missing", "application/json", strings.NewReader(`{}`))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should return Bad Request for invalid JSON", func() {
			resp := doRequest(http.MethodPut, ghttpServer.URL()+"/api/receipts/id1", "application/json", strings.NewReader(`[1,2]`))
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("handleDeleteReceipt", func() {
		BeforeEach(func() {
			db.receipts["id1"] = &Receipt{ID: "id1"}
		})

		It("should delete the receipt", func() {
			resp := doRequest(http.MethodDelete, ghttpServer.URL()+"/api/receipts/id1", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]string
			decodeBody(resp, &body)
			Expect(body["message"]).To(Equal("Receipt deleted successfully."))
			Expect(db.receipts).To(BeEmpty())
		})

		It("should return Not Found for unknown receipts", func() {
			resp := doRequest(http.MethodDelete, ghttpServer.URL()+"/api/receipts/missing", "", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleGetReceiptFile", func() {
		BeforeEach(func() {
			storage.files["id1_receipt.png"] = []byte("png data")
			db.receipts["id1"] = &Receipt{ID: "id1", Filename: "id1_receipt.png", ContentType: "image/png"}
			db.receipts["id2"] = &Receipt{ID: "id2"}
		})

		It("should return the file with its content type", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/id1/file")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("png data"))
		})

		It("should return Not Found when the receipt has no file", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/id2/file")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("handleExportReceipts", func() {
		BeforeEach(func() {
			db.receipts["id1"] = &Receipt{ID: "id1", Fields: extraction.Normalize(completeRaw())}
		})

		It("should download a workbook", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/receipts/export")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"))
			Expect(resp.Header.Get("Content-Disposition")).To(MatchRegexp(`attachment; filename=receipts_\d{8}\.xlsx`))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body[:2]).To(Equal([]byte("PK")))
		})
	})

	Describe("master record", func() {
		When("no record exists", func() {
			BeforeEach(func() {
				db.master = nil
			})

			It("should list nothing", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/master")
				Expect(err).NotTo(HaveOccurred())
				var masters []MasterRecord
				decodeBody(resp, &masters)
				Expect(masters).To(BeEmpty())
			})

			It("should create one with status Created", func() {
				resp := doRequest(http.MethodPost, ghttpServer.URL()+"/api/master", "application/json",
					strings.NewReader(`{"egatTaxId":"0994000244843","egatAddressTH":"กฟผ."}`))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				var master MasterRecord
				decodeBody(resp, &master)
				Expect(master.ID).To(Equal("test-id-123"))
				Expect(master.EgatAddressENG).To(BeNil())
				Expect(db.master).NotTo(BeNil())
			})
		})

		When("a record exists", func() {
			It("should update it with status OK", func() {
				resp := doRequest(http.MethodPost, ghttpServer.URL()+"/api/master", "application/json",
					strings.NewReader(`{"egatTaxId":"0994000244843"}`))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var master MasterRecord
				decodeBody(resp, &master)
				Expect(master.ID).To(Equal("master-1"))
				Expect(master.EgatAddressENG).To(BeNil())
			})

			It("should return it by ID", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/master/master-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var master MasterRecord
				decodeBody(resp, &master)
				Expect(master.EgatTaxID).To(Equal(strPtr(egatTaxID)))
			})

			It("should return Not Found for another ID", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/master/other")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				var body map[string]string
				decodeBody(resp, &body)
				Expect(body["error"]).To(Equal("Master data not found."))
			})

			It("should patch it", func() {
				resp := doRequest(http.MethodPut, ghttpServer.URL()+"/api/master/master-1", "application/json",
					strings.NewReader(`{"egatAddressTH":""}`))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var master MasterRecord
				decodeBody(resp, &master)
				Expect(master.EgatAddressTH).To(BeNil())
				Expect(master.EgatTaxID).To(Equal(strPtr(egatTaxID)))
			})

			It("should delete it", func() {
				resp := doRequest(http.MethodDelete, ghttpServer.URL()+"/api/master/master-1", "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var body map[string]string
				decodeBody(resp, &body)
				Expect(body["message"]).To(Equal("Master data deleted successfully."))
				Expect(db.master).To(BeNil())
			})

			It("should return Bad Request for invalid JSON", func() {
				resp := doRequest(http.MethodPost, ghttpServer.URL()+"/api/master", "application/json", strings.NewReader(`nope`))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("unknown routes", func() {
		It("should return Method Not Allowed for unsupported methods", func() {
			resp := doRequest(http.MethodPatch, ghttpServer.URL()+"/api/receipts/id1", "", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})
	})
})
