package client

import (
	"fmt"
	"net"
	"net/rpc"
	"time"

	"distledger/code/types"
)

const dialTimeout = 3 * time.Second

// Client is the thin request/response shim over the coordinator's RPC
// surface.
type Client struct {
	addr string
	rpc  *rpc.Client
}

// Dial connects to the coordinator.
func Dial(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("could not reach coordinator at %s: %w", addr, err)
	}
	return &Client{addr: addr, rpc: rpc.NewClient(conn)}, nil
}

// Transfer moves amount (in cents) from one account to another and returns
// the terminal outcome.
func (c *Client) Transfer(from, to string, amount int64) (*types.TransferReply, error) {
	req := &types.TransferRequest{From: from, To: to, Amount: amount}
	var reply types.TransferReply
	if err := c.rpc.Call("Coordinator.Transfer", req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Balance reads an account's current balance through the coordinator.
func (c *Client) Balance(accountID string) (*types.BalanceReply, error) {
	var reply types.BalanceReply
	if err := c.rpc.Call("Coordinator.QueryBalance", &types.BalanceRequest{AccountID: accountID}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Status looks up a transaction by id.
func (c *Client) Status(txnID string) (*types.StatusReply, error) {
	var reply types.StatusReply
	if err := c.rpc.Call("Coordinator.GetStatus", &types.StatusRequest{TxnID: txnID}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) Close() error {
	return c.rpc.Close()
}
