// Package config resolves the loosely typed, human authored configuration of a
// training run into a validated RunConfig.
//
// Configuration fragments (dataset options, model options, the optimization
// regime and the device assignment) are written as Python style literals, for
// example "{'tokenization': 'word', 'num_symbols': 32000}". They are parsed by a
// restricted literal parser which accepts numbers, strings, True, False, None,
// dicts, lists and tuples and rejects everything else, so resolving a fragment
// never evaluates code.
package config
