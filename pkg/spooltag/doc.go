// Package spooltag defines the result boundary of the spool scanner: the
// decoded FilamentRecord, the closed ScanResult variant and the TagFormat
// and ScanState enumerations.
//
// # Overview
//
// A scan drives the contactless radio through authentication, block reads,
// format detection and decoding, and always resolves to exactly one
// ScanResult. Consumers (inventory, scan history, UI) switch on Kind and
// never see hardware or decoder errors directly.
//
// # Usage Example
//
//	result := scanner.Scan(ctx)
//	switch result.Kind {
//	case spooltag.ResultSuccess:
//		fmt.Println(result.Record.MaterialType, result.Record.PrimaryColor())
//	case spooltag.ResultNoTag:
//		fmt.Println("hold a spool against the reader")
//	case spooltag.ResultReadError, spooltag.ResultParsingError:
//		fmt.Println(result.Message)
//	}
//
// # Ownership
//
// The FilamentRecord inside a successful result is owned by the caller once
// Scan returns. Nothing in the scanner keeps a reference to it.
package spooltag
