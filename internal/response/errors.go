package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly    ErrCode = "STUDENT_ACCESS_ONLY"
	ErrInstructorAccessOnly ErrCode = "INSTRUCTOR_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Exam access ───────────────────────────────────────────────────
	ErrInvalidCode                   ErrCode = "INVALID_CODE"
	ErrTeacherPasswordRequired       ErrCode = "TEACHER_PASSWORD_REQUIRED"
	ErrTeacherPasswordInvalid        ErrCode = "TEACHER_PASSWORD_INVALID"
	ErrInvalidOrExpiredAuthorization ErrCode = "INVALID_OR_EXPIRED_AUTHORIZATION"
	ErrAttemptAlreadyFinalized       ErrCode = "ATTEMPT_ALREADY_FINALIZED"
	ErrStorageConflict               ErrCode = "STORAGE_CONFLICT"
	ErrInvalidLaunchSession          ErrCode = "INVALID_LAUNCH_SESSION"

	// ─── Exam codes ────────────────────────────────────────────────────
	ErrNotExamAuthor ErrCode = "NOT_EXAM_AUTHOR"
	ErrCodeTaken     ErrCode = "CODE_TAKEN"
	ErrExpiryInPast  ErrCode = "EXPIRY_IN_PAST"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Email/NISN atau kata sandi salah."
	case ErrSessionInvalidated:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrInstructorAccessOnly:
		return "Sumber daya ini terbatas untuk pengajar."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrConflict:
		return "Sumber daya sudah ada."

	// ─── Exam access ───────────────────────────────────────────────────
	case ErrInvalidCode:
		return "Kode ujian tidak valid."
	case ErrTeacherPasswordRequired:
		return "Ujian ini memerlukan kata sandi pengawas."
	case ErrTeacherPasswordInvalid:
		return "Kata sandi pengawas salah."
	case ErrInvalidOrExpiredAuthorization:
		return "Otorisasi ujian tidak valid atau telah kedaluwarsa."
	case ErrAttemptAlreadyFinalized:
		return "Percobaan ujian ini sudah selesai."
	case ErrStorageConflict:
		return "Permintaan bersamaan terdeteksi. Silakan coba lagi."
	case ErrInvalidLaunchSession:
		return "Sesi aplikasi ujian tidak valid atau telah digantikan."

	// ─── Exam codes ────────────────────────────────────────────────────
	case ErrNotExamAuthor:
		return "Anda bukan pembuat ujian ini."
	case ErrCodeTaken:
		return "Kode ujian sudah digunakan."
	case ErrExpiryInPast:
		return "Waktu kedaluwarsa kode harus di masa depan."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
