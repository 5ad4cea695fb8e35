package shell

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/gbytes"
	"github.com/onsi/gomega/ghttp"

	"github.com/emilemassie/gemini-receipts/internal/batch"
	"github.com/emilemassie/gemini-receipts/internal/receipt"
	"github.com/emilemassie/gemini-receipts/internal/scanning"
)

var _ = Describe("Server", func() {
	var (
		store       *mockStore
		factory     *stubFactory
		runner      *batch.Runner
		auth        BasicAuth
		server      *Server
		ghttpServer *ghttp.Server

		inputDir string
		output   string
	)

	BeforeEach(func() {
		store = &mockStore{}
		factory = &stubFactory{response: `[{"vendor":"Starbucks","total":64.26}]`}
		runner = batch.NewRunner(receipt.NewCSVWriter(false))
		auth = BasicAuth{}

		inputDir = GinkgoT().TempDir()
		output = filepath.Join(GinkgoT().TempDir(), "out.csv")
	})

	JustBeforeEach(func() {
		server = NewServerWithMux(runner, store, factory.New, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`.*`), server.ServeHTTP)
		}
	})

	AfterEach(func() {
		if factory.release != nil {
			close(factory.release)
		}
		runner.Stop()
		runner.Wait()
		ghttpServer.Close()
	})

	do := func(method, path string, body any) *http.Response {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			reader = bytes.NewReader(data)
		}
		req, err := http.NewRequest(method, ghttpServer.URL()+path, reader)
		Expect(err).NotTo(HaveOccurred())
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	decode := func(resp *http.Response) map[string]any {
		defer resp.Body.Close()
		var out map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
		return out
	}

	runState := func() batch.State {
		state, _ := runner.State()
		return state
	}

	startJob := func(key string) *http.Response {
		return do(http.MethodPost, "/api/runs", map[string]string{
			"input_folder": inputDir,
			"output_path":  output,
			"key":          key,
		})
	}

	Describe("handleIndex", func() {
		It("should serve the page", func() {
			resp := do(http.MethodGet, "/", nil)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/html; charset=utf-8"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("Gemini Receipts"))
		})

		It("should reject other methods", func() {
			resp := do(http.MethodPost, "/", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		})

		It("should serve the assets", func() {
			resp := do(http.MethodGet, "/static/app.js", nil)
			resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/javascript; charset=utf-8"))

			resp = do(http.MethodGet, "/static/app.css", nil)
			resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/css"))
		})
	})

	When("basic auth is configured", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			resp := do(http.MethodGet, "/api/settings", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should accept the right credentials", func() {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/settings", nil)
			Expect(err).NotTo(HaveOccurred())
			req.SetBasicAuth("admin", "secret")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("settings", func() {
		When("a key is stored", func() {
			BeforeEach(func() {
				store.key = "stored-key"
			})

			It("should return it", func() {
				resp := do(http.MethodGet, "/api/settings", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(decode(resp)).To(Equal(map[string]any{"key": "stored-key", "has_key": true}))
			})
		})

		When("no key is stored", func() {
			It("should report it", func() {
				resp := do(http.MethodGet, "/api/settings", nil)
				Expect(decode(resp)).To(HaveKeyWithValue("has_key", false))
			})
		})

		It("should save a new key", func() {
			resp := do(http.MethodPut, "/api/settings", map[string]string{"key": " abc123 "})
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(store.Saved()).To(Equal([]string{"abc123"}))
		})

		It("should reject an empty key", func() {
			resp := do(http.MethodPut, "/api/settings", map[string]string{"key": "  "})
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decode(resp)["error"]).To(Equal(scanning.ErrCredentialMissing.Error()))
			Expect(store.Saved()).To(BeEmpty())
		})

		It("should reject a malformed body", func() {
			req, err := http.NewRequest(http.MethodPut, ghttpServer.URL()+"/api/settings", bytes.NewBufferString("{"))
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		When("saving fails", func() {
			BeforeEach(func() {
				store.saveErr = errors.New("disk full")
			})

			It("should return an error", func() {
				resp := do(http.MethodPut, "/api/settings", map[string]string{"key": "abc"})
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})
	})

	Describe("handleStartRun", func() {
		BeforeEach(func() {
			writeImage(inputDir, "a.png")
		})

		When("the input folder does not exist", func() {
			It("should reject the job without building a scanner", func() {
				resp := do(http.MethodPost, "/api/runs", map[string]string{
					"input_folder": filepath.Join(inputDir, "missing"),
					"output_path":  output,
					"key":          "k",
				})
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decode(resp)["error"]).To(ContainSubstring(batch.ErrInvalidJob.Error()))
				Expect(factory.Keys()).To(BeEmpty())
				Expect(runState()).To(Equal(batch.StateIdle))
			})
		})

		When("the output path is empty", func() {
			It("should reject the job", func() {
				resp := do(http.MethodPost, "/api/runs", map[string]string{
					"input_folder": inputDir,
					"key":          "k",
				})
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("no key is supplied or stored", func() {
			It("should report the missing credential", func() {
				resp := startJob("")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decode(resp)["error"]).To(Equal(scanning.ErrCredentialMissing.Error()))
				Expect(factory.Keys()).To(Equal([]string{""}))
				Expect(runState()).To(Equal(batch.StateIdle))
			})
		})

		When("a key is supplied and none is stored", func() {
			It("should save it and use it", func() {
				resp := startJob("new-key")
				Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
				Expect(decode(resp)["run_id"]).NotTo(BeEmpty())
				Expect(store.Saved()).To(Equal([]string{"new-key"}))
				Expect(factory.Keys()).To(Equal([]string{"new-key"}))
			})
		})

		When("a key is supplied and another is stored", func() {
			BeforeEach(func() {
				store.key = "stored-key"
			})

			It("should use the supplied key without saving it", func() {
				resp := startJob("other-key")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
				Expect(store.Saved()).To(BeEmpty())
				Expect(factory.Keys()).To(Equal([]string{"other-key"}))
			})
		})

		When("only a stored key exists", func() {
			BeforeEach(func() {
				store.key = "stored-key"
			})

			It("should use the stored key", func() {
				resp := startJob("")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
				Expect(factory.Keys()).To(Equal([]string{"stored-key"}))
			})
		})

		When("the scanner cannot be built", func() {
			It("should map a missing credential to bad request", func() {
				factory.err = scanning.ErrCredentialMissing
				resp := startJob("k")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})

			It("should map other failures to internal error", func() {
				factory.err = errors.New("boom")
				resp := startJob("k")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			})
		})

		When("the run succeeds", func() {
			It("should write the CSV, keep the log and close the scanner", func() {
				resp := startJob("k")
				runID := decode(resp)["run_id"]

				Eventually(runState).Should(Equal(batch.StateCompleted))
				Eventually(func() bool { return factory.Scanner(0).closed.Load() }).Should(BeTrue())

				data, err := os.ReadFile(output)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(ContainSubstring("Starbucks,,,,,,64.26,,a.png"))

				current := decode(do(http.MethodGet, "/api/runs/current", nil))
				Expect(current["state"]).To(Equal("completed"))
				Expect(current["run_id"]).To(Equal(runID))

				log, ok := current["log"].([]any)
				Expect(ok).To(BeTrue())
				Expect(log).NotTo(BeEmpty())
				first := log[0].(map[string]any)
				last := log[len(log)-1].(map[string]any)
				Expect(first["message"]).To(Equal("Running..."))
				Expect(last["kind"]).To(Equal("completed"))
				Expect(last["message"]).To(Equal("Done! CSV saved as: " + output))
			})
		})

		When("the run starts", func() {
			It("should answer before publishing any of the run's events", func() {
				body, err := json.Marshal(map[string]string{
					"input_folder": inputDir,
					"output_path":  output,
					"key":          "k",
				})
				Expect(err).NotTo(HaveOccurred())

				logged := -1
				rec := &hookedRecorder{
					ResponseRecorder: httptest.NewRecorder(),
					onWriteHeader: func() {
						_, log := server.feed.snapshot()
						logged = len(log)
					},
				}
				server.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewReader(body)))

				Expect(rec.Code).To(Equal(http.StatusAccepted))
				Expect(logged).To(Equal(0))
				Eventually(func() int {
					_, log := server.feed.snapshot()
					return len(log)
				}).Should(BeNumerically(">", 0))
			})
		})

		When("a run is already active and no key is stored", func() {
			BeforeEach(func() {
				factory.release = make(chan struct{})
			})

			It("should not save the supplied key", func() {
				busy := &stubScanner{response: factory.response, release: factory.release}
				_, _, err := runner.Start(context.Background(), busy, batch.Job{InputFolder: inputDir, OutputPath: output})
				Expect(err).NotTo(HaveOccurred())

				resp := startJob("new-key")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				Expect(store.Saved()).To(BeEmpty())
			})
		})

		When("a run is already active", func() {
			BeforeEach(func() {
				factory.entered = make(chan struct{}, 4)
				factory.release = make(chan struct{})
			})

			It("should reject the second start and close its scanner", func() {
				resp := startJob("k")
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
				Eventually(factory.entered).Should(Receive())

				resp = startJob("k")
				Expect(resp.StatusCode).To(Equal(http.StatusConflict))
				Expect(decode(resp)["error"]).To(Equal(batch.ErrAlreadyRunning.Error()))
				Expect(factory.Scanner(1).closed.Load()).To(BeTrue())
				Expect(factory.Scanner(0).closed.Load()).To(BeFalse())
			})
		})
	})

	Describe("handleStopRun", func() {
		It("should be a no-op when idle", func() {
			resp := do(http.MethodDelete, "/api/runs/current", nil)
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(runState()).To(Equal(batch.StateIdle))
		})

		When("a run is active", func() {
			BeforeEach(func() {
				writeImage(inputDir, "a.png")
				writeImage(inputDir, "b.png")
				factory.entered = make(chan struct{}, 4)
				factory.release = make(chan struct{})
			})

			It("should stop before the next file", func() {
				resp := startJob("k")
				resp.Body.Close()
				Eventually(factory.entered).Should(Receive())

				resp = do(http.MethodDelete, "/api/runs/current", nil)
				resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

				close(factory.release)
				factory.release = nil

				Eventually(runState).Should(Equal(batch.StateCancelled))
				Expect(runner.Last().Processed).To(Equal(1))
				Expect(output).To(BeAnExistingFile())
			})
		})
	})

	Describe("handleRunEvents", func() {
		BeforeEach(func() {
			writeImage(inputDir, "a.png")
		})

		stream := func(lastID string) (*http.Response, *gbytes.Buffer) {
			req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/runs/events", nil)
			Expect(err).NotTo(HaveOccurred())
			if lastID != "" {
				req.Header.Set("Last-Event-ID", lastID)
			}
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

			buf := gbytes.NewBuffer()
			go io.Copy(buf, resp.Body)
			return resp, buf
		}

		It("should replay the finished run", func() {
			resp := startJob("k")
			resp.Body.Close()
			Eventually(func() bool { return factory.Scanner(0).closed.Load() }).Should(BeTrue())

			events, buf := stream("")
			defer events.Body.Close()

			Eventually(buf).Should(gbytes.Say("event: progress\ndata: .*\"message\":\"Running...\""))
			Eventually(buf).Should(gbytes.Say(`"kind":"completed"`))
		})

		It("should stream a run started after subscribing", func() {
			events, buf := stream("")
			defer events.Body.Close()

			resp := startJob("k")
			resp.Body.Close()

			Eventually(buf).Should(gbytes.Say(`"kind":"started"`))
			Eventually(buf).Should(gbytes.Say(`"kind":"model_response"`))
			Eventually(buf).Should(gbytes.Say(`"kind":"completed"`))
		})

		When("the browser reconnects", func() {
			var runID string

			BeforeEach(func() {
				factory.response = `[{"vendor":"Starbucks"}]`
			})

			JustBeforeEach(func() {
				resp := startJob("k")
				runID = decode(resp)["run_id"].(string)
				Eventually(func() bool { return factory.Scanner(0).closed.Load() }).Should(BeTrue())
			})

			It("should tag every event with a resumable id", func() {
				events, buf := stream("")
				defer events.Body.Close()

				Eventually(buf).Should(gbytes.Say("id: " + regexp.QuoteMeta(runID) + ":1\nevent: progress\n"))
				Eventually(buf).Should(gbytes.Say("id: " + regexp.QuoteMeta(runID) + ":5\nevent: progress\ndata: .*\"kind\":\"completed\""))
			})

			It("should resume after Last-Event-ID without repeating lines", func() {
				events, buf := stream(runID + ":2")
				defer events.Body.Close()

				Eventually(buf).Should(gbytes.Say("id: " + regexp.QuoteMeta(runID) + ":3\n"))
				Eventually(buf).Should(gbytes.Say(`"kind":"completed"`))
				Expect(string(buf.Contents())).NotTo(ContainSubstring("Running..."))
				Expect(string(buf.Contents())).NotTo(ContainSubstring(runID + ":2\n"))
			})

			It("should replay the whole log for an id from another run", func() {
				events, buf := stream("some-other-run:4")
				defer events.Body.Close()

				Eventually(buf).Should(gbytes.Say(`"message":"Running..."`))
				Eventually(buf).Should(gbytes.Say(`"kind":"completed"`))
			})
		})
	})
})
