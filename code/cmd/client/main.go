package main

import (
	"flag"
	"fmt"
	"log"

	"distledger/code/client"
	"distledger/code/types"
)

func main() {
	var (
		coordinatorAddr string
		op              string
		from            string
		to              string
		account         string
		txnID           string
		amount          int64
	)
	flag.StringVar(&coordinatorAddr, "coordinator", "localhost:5010", "Coordinator address")
	flag.StringVar(&op, "op", "", "Operation: transfer | balance | status")
	flag.StringVar(&from, "from", "", "Sender account (transfer)")
	flag.StringVar(&to, "to", "", "Receiver account (transfer)")
	flag.StringVar(&account, "account", "", "Account id (balance)")
	flag.StringVar(&txnID, "txn", "", "Transaction id (status)")
	flag.Int64Var(&amount, "amount", 0, "Amount in cents (transfer)")
	flag.Parse()

	c, err := client.Dial(coordinatorAddr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer c.Close()

	switch op {
	case "transfer":
		if from == "" || to == "" || amount <= 0 {
			log.Fatal("Usage: client -op transfer -from a1 -to a2 -amount 500")
		}
		reply, err := c.Transfer(from, to, amount)
		if err != nil {
			log.Fatalf("Transfer failed: %v", err)
		}
		fmt.Printf("Transaction %s: %s\n", reply.TxnID, reply.Status)
		if reply.Status == types.TxnCommitted && len(reply.PendingAcks) > 0 {
			fmt.Printf("Warning: acks still pending from %v\n", reply.PendingAcks)
		}

	case "balance":
		if account == "" {
			log.Fatal("Usage: client -op balance -account a1")
		}
		reply, err := c.Balance(account)
		if err != nil {
			log.Fatalf("Balance query failed: %v", err)
		}
		fmt.Printf("Account %s: %d (served by %s)\n", reply.AccountID, reply.Balance, reply.ServedBy)

	case "status":
		if txnID == "" {
			log.Fatal("Usage: client -op status -txn <id>")
		}
		reply, err := c.Status(txnID)
		if err != nil {
			log.Fatalf("Status query failed: %v", err)
		}
		if !reply.Known {
			fmt.Printf("Transaction %s: unknown\n", txnID)
			return
		}
		fmt.Printf("Transaction %s: %s\n", reply.TxnID, reply.State)

	default:
		log.Fatal("Unknown operation. Use -op transfer | balance | status")
	}
}
