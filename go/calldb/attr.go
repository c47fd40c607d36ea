// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package calldb

// Attr identifies a statement-level attribute readable or writable through a
// StatementHandle.
type Attr uint16

const (
	AttrStatementType Attr = iota + 1
	AttrIsReturning
	AttrPrefetchRows
	AttrParamCount
	AttrRowsFetched
	AttrCurrentPosition
	AttrParseErrorOffset
	AttrNumDMLErrors
	AttrSQLText
	AttrSubscriptionQueryID
	AttrBindCount
)

var attrNames = map[Attr]string{
	AttrStatementType:       "statement-type",
	AttrIsReturning:         "is-returning",
	AttrPrefetchRows:        "prefetch-rows",
	AttrParamCount:          "param-count",
	AttrRowsFetched:         "rows-fetched",
	AttrCurrentPosition:     "current-position",
	AttrParseErrorOffset:    "parse-error-offset",
	AttrNumDMLErrors:        "num-dml-errors",
	AttrSQLText:             "sql-text",
	AttrSubscriptionQueryID: "subscription-query-id",
	AttrBindCount:           "bind-count",
}

func (a Attr) String() string {
	if s, ok := attrNames[a]; ok {
		return s
	}
	return "unknown-attr"
}

// ParamAttr identifies an attribute of a column or error parameter
// descriptor.
type ParamAttr uint16

const (
	ParamAttrDataType ParamAttr = iota + 1
	ParamAttrCharsetForm
	ParamAttrScale
	ParamAttrPrecision
	ParamAttrName
	ParamAttrDataSize
	ParamAttrCharSize
	ParamAttrIsNull
	ParamAttrObjectTypeName
	ParamAttrRowOffset
)

var paramAttrNames = map[ParamAttr]string{
	ParamAttrDataType:       "data-type",
	ParamAttrCharsetForm:    "charset-form",
	ParamAttrScale:          "scale",
	ParamAttrPrecision:      "precision",
	ParamAttrName:           "name",
	ParamAttrDataSize:       "data-size",
	ParamAttrCharSize:       "char-size",
	ParamAttrIsNull:         "is-null",
	ParamAttrObjectTypeName: "object-type-name",
	ParamAttrRowOffset:      "row-offset",
}

func (a ParamAttr) String() string {
	if s, ok := paramAttrNames[a]; ok {
		return s
	}
	return "unknown-attr"
}
