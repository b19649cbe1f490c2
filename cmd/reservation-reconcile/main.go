package main

import (
	"context"
	"flag"
	"log"

	"bitbucket.org/mmdatafocus/parts_backend/config"
	"bitbucket.org/mmdatafocus/parts_backend/workflow"
)

// Maintenance binary: releases reservations no live invoice accounts for.
// Run it after a crash or on a schedule; every release is a normal ledger
// movement and lands in the audit trail like any other.
func main() {
	businessId := flag.String("business", "", "business id to reconcile")
	flag.Parse()
	if *businessId == "" {
		log.Fatal("usage: reservation-reconcile -business <business-id>")
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	corrections, err := workflow.ReconcileReservations(context.Background(), *businessId)
	if err != nil {
		log.Fatalf("reconciliation failed: %v", err)
	}
	if len(corrections) == 0 {
		log.Println("no orphan reservations found")
		return
	}
	for _, c := range corrections {
		log.Printf("part=%d location=%s reserved=%s expected=%s released=%s",
			c.PartId, c.LocationCode, c.Reserved.String(), c.Expected.String(), c.Released.String())
	}
}
