package wire

import "fmt"

func errTooLong(field string, got, max int) error {
	return fmt.Errorf("wire: %s length %d exceeds max %d", field, got, max)
}

func errTooMany(field string, got, max int) error {
	return fmt.Errorf("wire: %s count %d exceeds max %d", field, got, max)
}

func errBadSigLen(field string, got, want int) error {
	return fmt.Errorf("wire: %s signature length %d, want %d", field, got, want)
}
