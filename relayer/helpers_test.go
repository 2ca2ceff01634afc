package relayer

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const testContract = "0x8eB24319393716668D768dCEC29356ae9CfFe285"

var testNames = StaticChainNames(map[BaseOn]map[string]ChainID{
	EVM:       {"goerli": 5, "sepolia": 11155111},
	Substrate: {"localnode": 1080},
})

func testDocument() *CapabilityDocument {
	ct := ContractInfo{Contract: "VAnchor", Address: testContract, Size: 1}
	ct.EventsWatcher.Enabled = true
	return &CapabilityDocument{
		EVM: map[string]ChainInfo{
			"goerli": {
				Beneficiary: "0x58fcd47ece3ed5d7e8a2a2b2b9b5a8e8fb1c3e8a",
				Contracts:   []ContractInfo{ct},
			},
		},
	}
}

// fakeRelayer serves the relayer HTTP API and a scripted websocket. After the
// first inbound message it writes script in order, then closes the channel
// if hangup is set, otherwise it waits for the client to go away.
type fakeRelayer struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	doc      *CapabilityDocument
	leaves   LeavesResponse
	script   []string
	hangup   bool
	received [][]byte
	paths    []string
}

func newFakeRelayer(t *testing.T, doc *CapabilityDocument) *fakeRelayer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := &fakeRelayer{t: t, doc: doc}

	r := gin.New()
	r.GET("/api/v1/info", func(c *gin.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.doc == nil {
			c.String(http.StatusInternalServerError, "not ready")
			return
		}
		c.JSON(http.StatusOK, f.doc)
	})
	r.GET("/api/v1/leaves/:chain/:contract", func(c *gin.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.paths = append(f.paths, c.Request.URL.Path)
		c.JSON(http.StatusOK, f.leaves)
	})
	r.GET("/api/v1/ip", func(c *gin.Context) {
		c.JSON(http.StatusOK, "203.0.113.7")
	})
	r.GET("/ws", f.serveWS)

	f.server = httptest.NewServer(r)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRelayer) URL() string { return f.server.URL }

func (f *fakeRelayer) setDocument(doc *CapabilityDocument) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doc = doc
}

func (f *fakeRelayer) setScript(hangup bool, msgs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = msgs
	f.hangup = hangup
}

func (f *fakeRelayer) messages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.received...)
}

var upgrader = websocket.Upgrader{}

func (f *fakeRelayer) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return
	}
	f.mu.Lock()
	f.received = append(f.received, msg)
	script, hangup := f.script, f.hangup
	f.mu.Unlock()

	for _, m := range script {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			return
		}
	}
	if hangup {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
