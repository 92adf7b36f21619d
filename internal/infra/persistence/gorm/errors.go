// Package gormpersistence 提供 repository 接口的 MySQL (GORM) 实现。
package gormpersistence

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// mysqlDuplicateEntry 是 MySQL 的 ER_DUP_ENTRY 错误码
const mysqlDuplicateEntry = 1062

// isDuplicateEntryError 检查是否违反了唯一约束
func isDuplicateEntryError(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
