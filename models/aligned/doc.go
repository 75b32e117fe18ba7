// Package aligned provides AlignedSoftmax, a small reference model that
// predicts target token t from the source token aligned with it through an
// embedding and a softmax output layer. Gradients are computed analytically.
//
// Model options:
//
//	hidden_size   embedding width (256)
//	reverse       align target t with source L-1-t (False)
//	init_range    initial weights are drawn from U(-init_range, init_range) (0.1)
//	seed          initialization seed (1)
//	threads       goroutines scoring a batch (number of CPUs)
package aligned
