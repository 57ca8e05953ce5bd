package rpc

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	USER = "test"
	PWD  = "test"

	HASH1804   = "257e0ef983e245d26972b4effc959e8c5e819322d73dfce347fc7baf3c845a91"
	HEADER1804 = "0000002050c2f32c30615106cc58b01352a13e6f309d7e6f142ccbe58d37a709f81a3f4739825ad49375ac5ff5fc292df9ed518124035f4edcf9b48d0aaf49b29ef7770ef410415effff7f2000000000"
	BLOCK1804  = "0000002050c2f32c30615106cc58b01352a13e6f309d7e6f142ccbe58d37a709f81a3f4739825ad49375ac5ff5fc292df9ed518124035f4edcf9b48d0aaf49b29ef7770ef410415effff7f200000000002020000000001010000000000000000000000000000000000000000000000000000000000000000ffffffff05020c070101ffffffff0247a41200000000001976a91428d2e8cee08857f569e5a1b147c5d5e87339e08188ac0000000000000000266a24aa21a9edb360526d4ae9ec8a8692f7a945f9f25c61d95317befc5a4d9b2741770ade8587012000000000000000000000000000000000000000000000000000000000000000000000000001000000011e108cea6d59ded46f1776b1d1cb4a7d68d715e1e1f1179814e8055046ac7280020000006a47304402202cc084dcfffcc2d447d0d8898c2cb84388c23d50d600e7800507bc2f50b4a9ef022034d149caf0f69486707fdf20fe8cc2c002741cb2fd4a58c20f64155b72757a35012103128a2c4525179e47f38cf3fefca37a61548ca4610255b3fb4ee86de2d3e80c0fffffffff03009435770000000022002044978a77e4e983136bf1cca277c45e5bd4eff6a7848e900416daf86fd32c274300000000000000003d6a3b660300000000000000000000000000000014ff4b747b7eff58c01d87f79958901a2024ec7aa514f3b8a17f1f957f60c88f105e32ebff3f022e56a400cdbbb2000000001976a91428d2e8cee08857f569e5a1b147c5d5e87339e08188ac00000000"
)

func startMockBtcServer() string {
	ms := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := ioutil.ReadAll(r.Body)
		req := new(Request)
		_ = json.Unmarshal(body, req)

		resp := map[string]interface{}{
			"result": nil,
			"error":  nil,
			"id":     1,
		}
		switch req.Method {
		case "getchaintips":
			resp["result"] = []map[string]interface{}{
				{"height": 1804, "hash": HASH1804, "status": "active"},
			}
		case "getblockhash":
			resp["result"] = HASH1804
		case "getblockheader":
			resp["result"] = HEADER1804
		case "getblock":
			resp["result"] = BLOCK1804
		}
		rb, _ := json.Marshal(resp)
		w.Write(rb)
	}))

	return ms.URL
}

func TestClient_GetCurrentHeightAndHash(t *testing.T) {
	cli := NewClient(startMockBtcServer(), USER, PWD)

	height, hash, err := cli.GetCurrentHeightAndHash()
	assert.NoError(t, err)
	assert.Equal(t, uint32(1804), height)
	assert.Equal(t, HASH1804, hash)
}

func TestClient_GetBlockHash(t *testing.T) {
	cli := NewClient(startMockBtcServer(), USER, PWD)

	hash, err := cli.GetBlockHash(1804)
	assert.NoError(t, err)
	assert.Equal(t, HASH1804, hash)
}

func TestClient_GetHeader(t *testing.T) {
	cli := NewClient(startMockBtcServer(), USER, PWD)

	header, err := cli.GetHeader(HASH1804)
	assert.NoError(t, err)
	assert.Equal(t, HASH1804, header.BlockHash().String())
}

func TestClient_GetBlock(t *testing.T) {
	cli := NewClient(startMockBtcServer(), USER, PWD)

	blk, err := cli.GetBlock(HASH1804)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(blk.Transactions))
	assert.Equal(t, HASH1804, blk.Header.BlockHash().String())
}

func TestClient_NetErr(t *testing.T) {
	cli := NewClient("http://127.0.0.1:1", USER, PWD)

	_, _, err := cli.GetCurrentHeightAndHash()
	assert.Error(t, err)
	assert.IsType(t, NetErr{}, err)
}

func TestClient_GetBlockHashNotReady(t *testing.T) {
	ms := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rb, _ := json.Marshal(map[string]interface{}{
			"result": nil,
			"error":  map[string]interface{}{"code": -8, "message": "Block height out of range"},
			"id":     1,
		})
		w.Write(rb)
	}))
	defer ms.Close()
	cli := NewClient(ms.URL, USER, PWD)

	_, err := cli.GetBlockHash(10000)
	assert.Error(t, err)
	assert.IsType(t, NeedToRetryErr{}, err)
}
