package rpc

import (
	"bytes"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/wire"
)

var (
	SleepTime time.Duration = 10
)

type Request struct {
	Jsonrpc string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	Id      int           `json:"id"`
}

type Response struct {
	Result interface{}       `json:"result"`
	Error  *btcjson.RPCError `json:"error"`
	Id     int               `json:"id"`
}

// Client talks to a bitcoind-style full node over JSON-RPC. It only ever
// reads chain state.
type Client struct {
	Addr string
	Cli  *http.Client
}

func NewClient(addr, user, pwd string) *Client {
	return &Client{
		Cli: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   5,
				DisableKeepAlives:     false,
				IdleConnTimeout:       time.Second * 300,
				ResponseHeaderTimeout: time.Second * 300,
				TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
				Proxy: func(req *http.Request) (*url.URL, error) {
					req.SetBasicAuth(user, pwd)
					return nil, nil
				},
			},
			Timeout: time.Second * 300,
		},
		Addr: addr,
	}
}

func (cli *Client) sendPostReq(reqBody []byte) (*Response, error) {
	req, err := http.NewRequest("POST", cli.Addr, bytes.NewReader(reqBody))
	if err != nil {
		return nil, NetErr{fmt.Errorf("failed to new request: %v", err)}
	}
	req.Close = true
	req.Header.Set("Content-Type", "application/json")

	resp, err := cli.Cli.Do(req)
	if err != nil {
		return nil, NetErr{fmt.Errorf("failed to post: %v", err)}
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, NetErr{fmt.Errorf("read response body error:%s", err)}
	}

	response := new(Response)
	err = json.Unmarshal(body, &response)
	if err != nil {
		return nil, NetErr{fmt.Errorf("failed to unmarshal response: %v", err)}
	}
	return response, nil
}

// GetCurrentHeightAndHash returns the active chain tip reported by the node.
func (cli *Client) GetCurrentHeightAndHash() (uint32, string, error) {
	reqTips, err := json.Marshal(Request{
		Jsonrpc: "1.0",
		Method:  "getchaintips",
		Params:  nil,
		Id:      1,
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to marshal request: %v", err)
	}

	resp, err := cli.sendPostReq(reqTips)
	if err != nil {
		return 0, "", err
	}
	if resp.Error != nil {
		return 0, "", fmt.Errorf("response shows failure: %v", resp.Error.Message)
	}

	m := resp.Result.([]interface{})[0].(map[string]interface{})
	return uint32(m["height"].(float64)), m["hash"].(string), nil
}

func (cli *Client) GetBlockHash(height uint32) (string, error) {
	req, err := json.Marshal(Request{
		Jsonrpc: "1.0",
		Method:  "getblockhash",
		Params:  []interface{}{height},
		Id:      1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %v", err)
	}

	resp, err := cli.sendPostReq(req)
	if err != nil {
		return "", err
	}
	if resp.Error != nil {
		if resp.Error.Code == -8 {
			return "", NeedToRetryErr{fmt.Errorf("height %d out of range yet: %v", height, resp.Error.Message)}
		}
		return "", fmt.Errorf("response shows failure: %v", resp.Error.Message)
	}

	return resp.Result.(string), nil
}

func (cli *Client) GetHeader(hash string) (*wire.BlockHeader, error) {
	req, err := json.Marshal(Request{
		Jsonrpc: "1.0",
		Method:  "getblockheader",
		Params:  []interface{}{hash, false},
		Id:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %v", err)
	}

	resp, err := cli.sendPostReq(req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("response shows failure: %v", resp.Error.Message)
	}

	str, ok := resp.Result.(string)
	if !ok {
		return nil, errors.New("result is not string type")
	}
	hb, err := hex.DecodeString(str)
	if err != nil {
		return nil, fmt.Errorf("failed to decode string: %v", err)
	}
	header := &wire.BlockHeader{}
	if err := header.BtcDecode(bytes.NewBuffer(hb), wire.ProtocolVersion, wire.LatestEncoding); err != nil {
		return nil, fmt.Errorf("failed to decode header: %v", err)
	}

	return header, nil
}

func (cli *Client) GetBlock(hash string) (*wire.MsgBlock, error) {
	req, err := json.Marshal(Request{
		Jsonrpc: "1.0",
		Method:  "getblock",
		Params:  []interface{}{hash, false},
		Id:      1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %v", err)
	}

	resp, err := cli.sendPostReq(req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("response shows failure: %v", resp.Error.Message)
	}
	bhex := resp.Result.(string)
	bb, err := hex.DecodeString(bhex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex string: %v", err)
	}

	block := new(wire.MsgBlock)
	err = block.BtcDecode(bytes.NewBuffer(bb), wire.ProtocolVersion, wire.LatestEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to decode block: %v", err)
	}

	return block, nil
}

type NeedToRetryErr struct {
	Err error
}

func (err NeedToRetryErr) Error() string {
	return err.Err.Error()
}

type NetErr struct {
	Err error
}

func (err NetErr) Error() string {
	return err.Err.Error()
}

func Wait(dura time.Duration) {
	t := time.NewTimer(dura)
	<-t.C
	t.Stop()
}
