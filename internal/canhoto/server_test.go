package canhoto

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Server", func() {
	var (
		db         *mockDB
		recognizer *mockRecognizer
		thumbs     *mockThumbnailer
		files      *mockFileStore
		service    *Service
		server     *Server
		rec        *httptest.ResponseRecorder
	)

	BeforeEach(func() {
		db = newMockDB()
		recognizer = &mockRecognizer{text: "Canhoto 98765 07/03/2024 LOJA 7"}
		thumbs = &mockThumbnailer{thumb: "dGh1bWI="}
		files = newMockFileStore()
		service = NewServiceWithDeps(db, recognizer, thumbs, files, Extractor{}, &mockIDGenerator{}, &mockTimeSource{})
		server = NewServer(service, BasicAuth{})
		rec = httptest.NewRecorder()
	})

	newBatchRequest := func(fields map[string]string, filenames ...string) *http.Request {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		for k, v := range fields {
			Expect(writer.WriteField(k, v)).To(Succeed())
		}
		for _, name := range filenames {
			part, err := writer.CreateFormFile("files", name)
			Expect(err).NotTo(HaveOccurred())
			_, err = part.Write([]byte("fake image data"))
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(writer.Close()).To(Succeed())

		req := httptest.NewRequest("POST", "/api/canhotos", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req
	}

	Describe("POST /api/canhotos", func() {
		It("ingests a batch and responds with the created records", func() {
			req := newBatchRequest(map[string]string{"recognize": "1"}, "a.jpg", "b.jpg")
			server.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusCreated))

			var resp struct {
				Created []*Canhoto          `json:"created"`
				Failed  []map[string]string `json:"failed"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Created).To(HaveLen(2))
			Expect(resp.Failed).To(BeEmpty())
			Expect(resp.Created[0].Num).To(Equal("98765"))
			Expect(db.canhotos).To(HaveLen(2))
		})

		It("applies batch-level manual fields", func() {
			req := newBatchRequest(map[string]string{"store": "012", "date": "2024-05-01"}, "a.jpg")
			server.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusCreated))
			var resp struct {
				Created []*Canhoto `json:"created"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Created[0].Store).To(Equal("12"))
			Expect(resp.Created[0].Date).To(Equal("2024-05-01"))
		})

		It("rejects a request without files", func() {
			req := newBatchRequest(nil)
			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects a malformed manual date", func() {
			req := newBatchRequest(map[string]string{"date": "01/05/2024"}, "a.jpg")
			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("rejects a non-numeric manual store code", func() {
			req := newBatchRequest(map[string]string{"store": "abc"}, "a.jpg")
			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(db.canhotos).To(BeEmpty())
		})

		It("rejects a manual store code longer than four digits", func() {
			req := newBatchRequest(map[string]string{"store": "12345"}, "a.jpg")
			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(db.canhotos).To(BeEmpty())
		})

		It("reports per-item failures without failing the batch", func() {
			thumbs.err = errors.New("bad image")
			req := newBatchRequest(nil, "a.jpg")
			server.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusCreated))
			var resp struct {
				Created []*Canhoto          `json:"created"`
				Failed  []map[string]string `json:"failed"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Created).To(BeEmpty())
			Expect(resp.Failed).To(HaveLen(1))
			Expect(resp.Failed[0]["filename"]).To(Equal("a.jpg"))
		})
	})

	Describe("GET /api/canhotos/{id}", func() {
		It("returns the record", func() {
			Expect(db.SaveCanhoto(&Canhoto{ID: "abc", Num: "12345"})).To(Succeed())
			server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/canhotos/abc", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			var c Canhoto
			Expect(json.Unmarshal(rec.Body.Bytes(), &c)).To(Succeed())
			Expect(c.Num).To(Equal("12345"))
		})

		It("responds 404 for an unknown id", func() {
			server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/canhotos/missing", nil))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("GET /api/canhotos/{id}/image", func() {
		It("returns the stored bytes with the stored media type", func() {
			Expect(db.SaveCanhoto(&Canhoto{
				ID:       "abc",
				Mime:     "image/png",
				ImageB64: base64.StdEncoding.EncodeToString([]byte("png-bytes")),
			})).To(Succeed())
			server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/canhotos/abc/image", nil))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("image/png"))
			Expect(rec.Body.String()).To(Equal("png-bytes"))
		})
	})

	Describe("DELETE /api/canhotos/{id}", func() {
		It("removes the record", func() {
			Expect(db.SaveCanhoto(&Canhoto{ID: "abc"})).To(Succeed())
			server.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/canhotos/abc", nil))

			Expect(rec.Code).To(Equal(http.StatusNoContent))
			Expect(db.canhotos).To(BeEmpty())
		})

		It("succeeds for an unknown id", func() {
			server.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/canhotos/missing", nil))
			Expect(rec.Code).To(Equal(http.StatusNoContent))
		})
	})

	Describe("GET /api/canhotos/search", func() {
		BeforeEach(func() {
			Expect(db.SaveCanhoto(&Canhoto{ID: "a", Num: "12345", Date: "2024-03-07"})).To(Succeed())
		})

		It("finds by number", func() {
			server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/canhotos/search?num=12345", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var out []*Canhoto
			Expect(json.Unmarshal(rec.Body.Bytes(), &out)).To(Succeed())
			Expect(out).To(HaveLen(1))
		})

		It("responds 400 when neither number nor date is given", func() {
			server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/canhotos/search", nil))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/canhotos/browse", func() {
		BeforeEach(func() {
			Expect(db.SaveCanhoto(&Canhoto{ID: "a", Date: "2024-03-07", Store: "7"})).To(Succeed())
		})

		It("lists records for a date", func() {
			server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/canhotos/browse?date=2024-03-07", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))

			var out []*Canhoto
			Expect(json.Unmarshal(rec.Body.Bytes(), &out)).To(Succeed())
			Expect(out).To(HaveLen(1))
		})

		It("responds 400 without a date", func() {
			server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/canhotos/browse?store=7", nil))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("backup endpoints", func() {
		BeforeEach(func() {
			Expect(db.SaveCanhoto(&Canhoto{ID: "a", Num: "12345"})).To(Succeed())
		})

		It("exports a document the import endpoint accepts back", func() {
			server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/backup", nil))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Disposition")).To(ContainSubstring("backup_canhotos_"))

			exported := rec.Body.Bytes()
			db.canhotos = make(map[string]*Canhoto)
			db.saveOrder = nil

			rec = httptest.NewRecorder()
			req := httptest.NewRequest("POST", "/api/backup", bytes.NewReader(exported))
			server.ServeHTTP(rec, req)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(db.canhotos).To(HaveKey("a"))
		})

		It("rejects a document without items", func() {
			req := httptest.NewRequest("POST", "/api/backup", strings.NewReader(`{"version":1}`))
			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(db.canhotos).To(HaveLen(1))
		})

		It("rejects a body that is not JSON", func() {
			req := httptest.NewRequest("POST", "/api/backup", strings.NewReader("nope"))
			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("saves a backup file into the backup directory", func() {
			server.ServeHTTP(rec, httptest.NewRequest("POST", "/api/backup/save", nil))
			Expect(rec.Code).To(Equal(http.StatusCreated))
			Expect(files.files).To(HaveLen(1))
		})

		It("restores a backup file from the backup directory", func() {
			server.ServeHTTP(rec, httptest.NewRequest("POST", "/api/backup/save", nil))
			Expect(rec.Code).To(Equal(http.StatusCreated))
			var saved struct {
				Filename string `json:"filename"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &saved)).To(Succeed())

			db.canhotos = make(map[string]*Canhoto)
			db.saveOrder = nil

			rec = httptest.NewRecorder()
			body, _ := json.Marshal(map[string]string{"filename": saved.Filename})
			server.ServeHTTP(rec, httptest.NewRequest("POST", "/api/backup/restore", bytes.NewReader(body)))

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(db.canhotos).To(HaveKey("a"))
		})

		It("responds 404 when the backup file does not exist", func() {
			body, _ := json.Marshal(map[string]string{"filename": "nonexistent.json"})
			server.ServeHTTP(rec, httptest.NewRequest("POST", "/api/backup/restore", bytes.NewReader(body)))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("responds 500 when reading the backup file fails", func() {
			files.readErr = errors.New("disk error")
			body, _ := json.Marshal(map[string]string{"filename": "backup.json"})
			server.ServeHTTP(rec, httptest.NewRequest("POST", "/api/backup/restore", bytes.NewReader(body)))
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			server = NewServer(service, BasicAuth{Username: "user", Password: "secret"})
		})

		It("rejects requests without credentials", func() {
			server.ServeHTTP(rec, httptest.NewRequest("GET", "/api/canhotos", nil))
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(rec.Header().Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("accepts requests with valid credentials", func() {
			req := httptest.NewRequest("GET", "/api/canhotos", nil)
			req.SetBasicAuth("user", "secret")
			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})

		It("rejects wrong credentials", func() {
			req := httptest.NewRequest("GET", "/api/canhotos", nil)
			req.SetBasicAuth("user", "wrong")
			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})
})
