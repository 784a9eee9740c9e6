package procurement

// ReconcileGRStatus recomputes the goods-receipt status of a purchase
// order from its lines. Order independent: the fold inspects every line
// and never patches a previous status incrementally.
//
//  1. Any line claimed by a Created receipt -> CREATED.
//  2. Else every line fully received -> FULLY_RECEIVED.
//  3. Else any line partially received -> PARTIALLY_RECEIVED.
//  4. Else, receipts existed but all were cancelled -> CANCELLED; with no
//     receipt activity at all the status stays NOT_RECEIVED.
func ReconcileGRStatus(lines []POLine, hadReceipts bool) GRStatus {
	if len(lines) == 0 {
		return GRStatusNone
	}
	const eps = 0.0005
	anyCreated := false
	anyPartial := false
	allFull := true
	for _, line := range lines {
		if line.CreatedReceivedQty > eps {
			anyCreated = true
		}
		if line.ReceivedQty > eps && line.ReceivedQty < line.Qty-eps {
			anyPartial = true
		}
		if line.ReceivedQty < line.Qty-eps {
			allFull = false
		}
	}
	switch {
	case anyCreated:
		return GRStatusCreated
	case allFull:
		return GRStatusFullyReceived
	case anyPartial:
		return GRStatusPartiallyReceived
	case hadReceipts:
		return GRStatusCancelled
	default:
		return GRStatusNone
	}
}
