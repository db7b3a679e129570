package dataset

// Logical field names of the two source datasets. Tables resolve them through
// Lookup, so a field defined by both sources still resolves after suffixing.
const (
	FieldEmail       = "email"
	FieldName        = "nama"
	FieldRegion      = "wilayah"
	FieldTitle       = "title"
	FieldCategory    = "category_name"
	FieldTransaction = "no_transaksi"
	FieldPrice       = "price"
	FieldProgress    = "progress"
	FieldDuration    = "duration"
	FieldVoucher     = "voucher"
	FieldEnrollDate  = "enroll_date"
)
