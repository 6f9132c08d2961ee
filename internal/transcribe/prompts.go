package transcribe

import (
	"fmt"
	"strings"

	"github.com/dvloznov/s1a-ledger/internal/domain"
)

const verbatimPrompt = "Hãy viết lại chính xác những gì người dùng nói bằng tiếng Việt. " +
	"Chỉ trả về nội dung văn bản, không thêm lời dẫn."

// fieldPrompt builds the instruction for dictating one header field.
// year resolves relative periods such as "quý hai năm nay".
func fieldPrompt(field domain.InfoField, year int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Bạn là trợ lý kế toán chuyên nghiệp. Hãy nghe âm thanh và trích xuất thông tin cho trường %q.\n\n", field.Label())
	b.WriteString("QUY TẮC ĐỊNH DẠNG:\n")
	b.WriteString(fieldRules(field, year))
	b.WriteString("\nChỉ trả về nội dung đã chuẩn hóa, KHÔNG thêm lời dẫn, KHÔNG giải thích, KHÔNG thêm ký hiệu tiền tệ.")
	return b.String()
}

func fieldRules(field domain.InfoField, year int) string {
	switch field {
	case domain.FieldPeriod:
		return "- Chuyển thành định dạng: \"Tháng MM/YYYY\", \"Quý Q/YYYY\" hoặc \"Năm YYYY\".\n" +
			"- Ví dụ: nói \"tháng mười năm hai ba\" -> trả về \"Tháng 10/2023\".\n" +
			fmt.Sprintf("- Ví dụ: nói \"quý hai năm nay\" -> trả về \"Quý 2/%d\".\n", year)
	case domain.FieldAddress, domain.FieldLocation:
		return "- Viết hoa các chữ cái đầu của tên riêng, tên đường, phường, quận, tỉnh.\n" +
			"- Ngăn cách các cấp hành chính bằng dấu phẩy.\n" +
			"- Ví dụ: nói \"số mười hai đường láng quận đống đa hà nội\" -> trả về \"Số 12, Đường Láng, Quận Đống Đa, Hà Nội\".\n"
	case domain.FieldName:
		return "- Viết hoa chữ cái đầu của mọi từ.\n"
	case domain.FieldTaxID:
		return "- Chỉ trả về dãy chữ số liên tục, không khoảng trắng, không dấu.\n"
	}
	return "- Viết lại chính xác nội dung người dùng nói.\n"
}

// extractPrompt asks for one transaction. today is DD/MM/YYYY.
func extractPrompt(today string) string {
	return "Bạn là trợ lý kế toán. Hãy nghe đoạn âm thanh tiếng Việt và trích xuất thông tin giao dịch.\n" +
		fmt.Sprintf("Ngày hiện tại là: %s.\n", today) +
		"Nếu người dùng nói \"hôm nay\", \"hôm qua\", hãy tính ra ngày cụ thể (định dạng DD/MM/YYYY).\n" +
		"Số tiền là số nguyên VNĐ, ví dụ \"200 ngàn\" là 200000.\n" +
		"Trả về JSON."
}
